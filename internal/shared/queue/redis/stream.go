// Package redis 基于 Redis Streams 消费组的队列实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/queue"
)

// Store Redis Streams 队列后端
//
// 每个队列一个 Stream，所有消费者加入同一个消费组，消息只投递给其中一个。
// 读出后立即 XACK：投递语义为至多一次。
type Store struct {
	client *redis.Client
	group  string
	maxLen int64
	owned  bool
}

// Options Store 配置
type Options struct {
	Group  string
	MaxLen int64
}

// NewStoreFromURL 从 URL 创建队列后端
func NewStoreFromURL(redisURL string, opts Options) (*Store, error) {
	o, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(o)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Queue] Connected to %s", o.Addr)
	s := NewStoreFromClient(client, opts)
	s.owned = true
	return s, nil
}

// NewStoreFromClient 复用已有客户端，Close 不会关闭该客户端
func NewStoreFromClient(client *redis.Client, opts Options) *Store {
	if opts.Group == "" {
		opts.Group = queue.DefaultConsumerGroup
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = queue.MaxStreamLength
	}
	return &Store{client: client, group: opts.Group, maxLen: opts.MaxLen}
}

// Declare 创建 Stream 与消费组
func (s *Store) Declare(ctx context.Context, name string) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.StreamKey(name), s.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group for %s: %w", name, err)
	}
	return nil
}

// NewProducer 打开写端
func (s *Store) NewProducer(ctx context.Context, name string) (queue.Producer, error) {
	return &producer{store: s, key: queue.StreamKey(name)}, nil
}

// NewConsumer 打开读端并确保消费组存在
func (s *Store) NewConsumer(ctx context.Context, name, consumerID string) (queue.Consumer, error) {
	if err := s.Declare(ctx, name); err != nil {
		return nil, err
	}
	return &consumer{store: s, key: queue.StreamKey(name), id: consumerID}, nil
}

// Len 消费组中尚未投递的消息数
func (s *Store) Len(ctx context.Context, name string) (int64, error) {
	groups, err := s.client.XInfoGroups(ctx, queue.StreamKey(name)).Result()
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.Name == s.group {
			return g.Lag, nil
		}
	}
	return s.client.XLen(ctx, queue.StreamKey(name)).Result()
}

// Remove 删除 Stream
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.client.Del(ctx, queue.StreamKey(name)).Err()
}

// Close 关闭连接（仅关闭自己创建的客户端）
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ============================================================================
// 读写端
// ============================================================================

type producer struct {
	store *Store
	key   string
}

func (p *producer) Put(ctx context.Context, e *model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", e.UID, err)
	}
	args := &redis.XAddArgs{
		Stream: p.key,
		MaxLen: p.store.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			queue.FieldUID:    e.UID,
			queue.FieldEntity: string(data),
		},
	}
	if err := p.store.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to put %s on %s: %w", e.UID, p.key, err)
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	store *Store
	key   string
	id    string
}

func (c *consumer) GetNowait(ctx context.Context, timeout time.Duration) (*model.Entity, error) {
	// Block 为 0 会永久阻塞，非正超时改为不带 BLOCK 参数
	block := timeout
	if block <= 0 {
		block = -1
	} else if block < time.Millisecond {
		block = time.Millisecond
	}

	streams, err := c.store.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.store.group,
		Consumer: c.id,
		Streams:  []string{c.key, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.store.client.XAck(ctx, c.key, c.store.group, msg.ID).Err(); err != nil {
				log.Printf("[Redis/Queue] Ack failed: key=%s msg=%s err=%v", c.key, msg.ID, err)
			}
			raw, ok := msg.Values[queue.FieldEntity].(string)
			if !ok {
				return nil, fmt.Errorf("message %s on %s has no entity field", msg.ID, c.key)
			}
			return model.UnmarshalEntity([]byte(raw))
		}
	}
	return nil, nil
}

func (c *consumer) Close() error { return nil }

var _ queue.Backend = (*Store)(nil)
