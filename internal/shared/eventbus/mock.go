// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// NoOpBackend - 空操作的 Backend 实现（用于测试）
// ============================================================================

// NoOpBackend 丢弃所有发布，订阅永远为空
type NoOpBackend struct{}

// NewNoOpBackend 创建 NoOpBackend 实例
func NewNoOpBackend() *NoOpBackend {
	return &NoOpBackend{}
}

func (b *NoOpBackend) Declare(ctx context.Context, channel string) error { return nil }
func (b *NoOpBackend) NewPublisher(ctx context.Context, channel string) (Publisher, error) {
	return noOpEndpoint{}, nil
}
func (b *NoOpBackend) NewSubscriber(ctx context.Context, channel string) (Subscriber, error) {
	return noOpEndpoint{}, nil
}
func (b *NoOpBackend) Close() error { return nil }

type noOpEndpoint struct{}

func (noOpEndpoint) Publish(ctx context.Context, topic string, data []byte) error { return nil }
func (noOpEndpoint) Subscribe(ctx context.Context, topic string) error            { return nil }
func (noOpEndpoint) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	return nil, nil
}
func (noOpEndpoint) Close() error { return nil }

// 确保 NoOpBackend 实现了 Backend 接口
var _ Backend = (*NoOpBackend)(nil)
