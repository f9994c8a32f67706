// Package etcd 基于 etcd watch 的事件总线
//
// 每条消息写成一个带租约的 key：{prefix}/pubsub/{channel}/{topic}/{id}，
// 订阅端 watch 主题前缀，只接收订阅之后写入的消息。
package etcd

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"pilot-runtime/internal/shared/eventbus"
)

// Bus etcd 事件总线
type Bus struct {
	client *clientv3.Client
	prefix string
	ttl    int64
}

// NewBus 创建 etcd 事件总线，client 由调用方管理
func NewBus(client *clientv3.Client, prefix string, ttl int64) *Bus {
	if prefix == "" {
		prefix = "/pilot"
	}
	if ttl <= 0 {
		ttl = eventbus.MessageTTL
	}
	return &Bus{client: client, prefix: strings.TrimRight(prefix, "/"), ttl: ttl}
}

func (b *Bus) topicPrefix(channel, topic string) string {
	return fmt.Sprintf("%s/pubsub/%s/%s/", b.prefix, channel, topic)
}

// Declare etcd 前缀无需预先创建
func (b *Bus) Declare(ctx context.Context, channel string) error { return nil }

// NewPublisher 打开发布端
func (b *Bus) NewPublisher(ctx context.Context, channel string) (eventbus.Publisher, error) {
	return &publisher{bus: b, channel: channel}, nil
}

// NewSubscriber 打开订阅端
func (b *Bus) NewSubscriber(ctx context.Context, channel string) (eventbus.Subscriber, error) {
	wctx, cancel := context.WithCancel(context.Background())
	return &subscriber{
		bus:     b,
		channel: channel,
		ctx:     wctx,
		cancel:  cancel,
		msgs:    make(chan *eventbus.Message, eventbus.SubscriberBuffer),
		topics:  make(map[string]bool),
	}, nil
}

// Close client 由调用方关闭
func (b *Bus) Close() error { return nil }

type publisher struct {
	bus     *Bus
	channel string
}

func (p *publisher) Publish(ctx context.Context, topic string, data []byte) error {
	lease, err := p.bus.client.Grant(ctx, p.bus.ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	// key 以纳秒时间戳开头，同一主题内按写入顺序排列
	key := fmt.Sprintf("%s%020d-%s", p.bus.topicPrefix(p.channel, topic), time.Now().UnixNano(), uuid.NewString()[:8])
	if _, err := p.bus.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}
	return nil
}

func (p *publisher) Close() error { return nil }

type subscriber struct {
	bus     *Bus
	channel string
	ctx     context.Context
	cancel  context.CancelFunc
	msgs    chan *eventbus.Message

	mu     sync.Mutex
	topics map[string]bool
	wg     sync.WaitGroup
}

func (s *subscriber) Subscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return eventbus.ErrClosed
	}
	if s.topics[topic] {
		return nil
	}
	s.topics[topic] = true

	prefix := s.bus.topicPrefix(s.channel, topic)
	// 从当前 revision 之后开始 watch
	resp, err := s.bus.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}
	watchCh := s.bus.client.Watch(s.ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for watchResp := range watchCh {
			for _, ev := range watchResp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				m := &eventbus.Message{
					Channel:   s.channel,
					Topic:     topic,
					Data:      append([]byte(nil), ev.Kv.Value...),
					Timestamp: time.Now(),
				}
				select {
				case s.msgs <- m:
				case <-s.ctx.Done():
					return
				default:
					log.Printf("[etcd/EventBus] Subscriber buffer full, dropping: channel=%s topic=%s", s.channel, topic)
				}
			}
		}
	}()
	return nil
}

func (s *subscriber) Receive(ctx context.Context, timeout time.Duration) (*eventbus.Message, error) {
	if timeout <= 0 {
		select {
		case m := <-s.msgs:
			return m, nil
		default:
			if s.ctx.Err() != nil {
				return nil, eventbus.ErrClosed
			}
			return nil, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.ctx.Done():
		return nil, eventbus.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *subscriber) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

var _ eventbus.Backend = (*Bus)(nil)
