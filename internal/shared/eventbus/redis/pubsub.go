// Package redis 基于 Redis Pub/Sub 的事件总线
package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pilot-runtime/internal/shared/eventbus"
)

// Store Redis Pub/Sub 总线
//
// 频道名为 pilot:pubsub:{channel}:{topic}。订阅之前发布的消息不会收到。
type Store struct {
	client *redis.Client
	owned  bool
}

// NewStoreFromURL 从 URL 创建事件总线
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", opts.Addr)
	return &Store{client: client, owned: true}, nil
}

// NewStoreFromClient 复用已有客户端，Close 不会关闭该客户端
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Declare Redis 频道无需预先创建
func (s *Store) Declare(ctx context.Context, channel string) error { return nil }

// NewPublisher 打开发布端
func (s *Store) NewPublisher(ctx context.Context, channel string) (eventbus.Publisher, error) {
	return &publisher{client: s.client, channel: channel}, nil
}

// NewSubscriber 打开订阅端
func (s *Store) NewSubscriber(ctx context.Context, channel string) (eventbus.Subscriber, error) {
	return &subscriber{client: s.client, channel: channel}, nil
}

// Close 关闭连接（仅关闭自己创建的客户端）
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

type publisher struct {
	client  *redis.Client
	channel string
}

func (p *publisher) Publish(ctx context.Context, topic string, data []byte) error {
	if err := p.client.Publish(ctx, eventbus.ChannelTopic(p.channel, topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s/%s: %w", p.channel, topic, err)
	}
	return nil
}

func (p *publisher) Close() error { return nil }

type subscriber struct {
	client  *redis.Client
	channel string
	ps      *redis.PubSub
	msgs    <-chan *redis.Message
}

func (s *subscriber) Subscribe(ctx context.Context, topic string) error {
	name := eventbus.ChannelTopic(s.channel, topic)
	if s.ps == nil {
		s.ps = s.client.Subscribe(ctx, name)
		// 等待订阅确认，确保之后的发布能收到
		if _, err := s.ps.Receive(ctx); err != nil {
			s.ps.Close()
			s.ps = nil
			return fmt.Errorf("failed to subscribe %s: %w", name, err)
		}
		s.msgs = s.ps.Channel(redis.WithChannelSize(eventbus.SubscriberBuffer))
		return nil
	}
	return s.ps.Subscribe(ctx, name)
}

func (s *subscriber) Receive(ctx context.Context, timeout time.Duration) (*eventbus.Message, error) {
	if s.msgs == nil {
		return nil, nil
	}
	if timeout <= 0 {
		select {
		case m, ok := <-s.msgs:
			return s.convert(m, ok)
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m, ok := <-s.msgs:
		return s.convert(m, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *subscriber) convert(m *redis.Message, ok bool) (*eventbus.Message, error) {
	if !ok {
		return nil, eventbus.ErrClosed
	}
	prefix := eventbus.KeyPubSubPrefix + s.channel + ":"
	return &eventbus.Message{
		Channel:   s.channel,
		Topic:     strings.TrimPrefix(m.Channel, prefix),
		Data:      []byte(m.Payload),
		Timestamp: time.Now(),
	}, nil
}

func (s *subscriber) Close() error {
	if s.ps == nil {
		return nil
	}
	return s.ps.Close()
}

var _ eventbus.Backend = (*Store)(nil)
