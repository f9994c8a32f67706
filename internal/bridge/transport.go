package bridge

import (
	"context"
	"fmt"

	"pilot-runtime/internal/shared/eventbus"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/shared/queue"
)

// Transport 按地址打开通道端点
//
// 组件只通过该接口接触通道，不关心具体后端。
type Transport interface {
	OpenProducer(ctx context.Context, addr string) (queue.Producer, error)
	OpenConsumer(ctx context.Context, addr, consumerID string) (queue.Consumer, error)
	OpenPublisher(ctx context.Context, addr string) (eventbus.Publisher, error)
	OpenSubscriber(ctx context.Context, addr string) (eventbus.Subscriber, error)
}

// Router 基于基础设施的 Transport 实现
type Router struct {
	inf *infra.Infrastructure
}

// NewRouter 创建路由
func NewRouter(inf *infra.Infrastructure) *Router {
	return &Router{inf: inf}
}

// Infra 返回底层基础设施
func (r *Router) Infra() *infra.Infrastructure {
	return r.inf
}

func (r *Router) endpoint(addr, scheme, role string) (Endpoint, error) {
	ep, err := ParseAddress(addr)
	if err != nil {
		return Endpoint{}, err
	}
	if ep.Scheme != scheme {
		return Endpoint{}, fmt.Errorf("%w: %q served by %s, transport is %s", ErrBadAddress, addr, ep.Scheme, scheme)
	}
	if ep.Role != role {
		return Endpoint{}, fmt.Errorf("%w: %q is a %s address, want %s", ErrBadAddress, addr, ep.Role, role)
	}
	return ep, nil
}

// OpenProducer 在 sink 地址上打开队列写端
func (r *Router) OpenProducer(ctx context.Context, addr string) (queue.Producer, error) {
	ep, err := r.endpoint(addr, r.inf.QueueScheme, RoleSink)
	if err != nil {
		return nil, err
	}
	return r.inf.Queue.NewProducer(ctx, ep.Name)
}

// OpenConsumer 在 source 地址上打开队列读端
func (r *Router) OpenConsumer(ctx context.Context, addr, consumerID string) (queue.Consumer, error) {
	ep, err := r.endpoint(addr, r.inf.QueueScheme, RoleSource)
	if err != nil {
		return nil, err
	}
	return r.inf.Queue.NewConsumer(ctx, ep.Name, consumerID)
}

// OpenPublisher 在 sink 地址上打开发布端
func (r *Router) OpenPublisher(ctx context.Context, addr string) (eventbus.Publisher, error) {
	ep, err := r.endpoint(addr, r.inf.BusScheme, RoleSink)
	if err != nil {
		return nil, err
	}
	return r.inf.EventBus.NewPublisher(ctx, ep.Name)
}

// OpenSubscriber 在 source 地址上打开订阅端
func (r *Router) OpenSubscriber(ctx context.Context, addr string) (eventbus.Subscriber, error) {
	ep, err := r.endpoint(addr, r.inf.BusScheme, RoleSource)
	if err != nil {
		return nil, err
	}
	return r.inf.EventBus.NewSubscriber(ctx, ep.Name)
}

// Close 关闭底层基础设施
func (r *Router) Close() error {
	return r.inf.Close()
}

var _ Transport = (*Router)(nil)
