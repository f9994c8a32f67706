// Package queue 消息队列 mock 实现
package queue

import (
	"context"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// NoOpBackend - 空操作的 Backend 实现（用于测试）
// ============================================================================

// NoOpBackend 丢弃所有写入，读取永远为空
type NoOpBackend struct{}

// NewNoOpBackend 创建 NoOpBackend 实例
func NewNoOpBackend() *NoOpBackend {
	return &NoOpBackend{}
}

func (b *NoOpBackend) Declare(ctx context.Context, name string) error { return nil }
func (b *NoOpBackend) NewProducer(ctx context.Context, name string) (Producer, error) {
	return noOpEndpoint{}, nil
}
func (b *NoOpBackend) NewConsumer(ctx context.Context, name, consumerID string) (Consumer, error) {
	return noOpEndpoint{}, nil
}
func (b *NoOpBackend) Len(ctx context.Context, name string) (int64, error) { return 0, nil }
func (b *NoOpBackend) Remove(ctx context.Context, name string) error       { return nil }
func (b *NoOpBackend) Close() error                                        { return nil }

type noOpEndpoint struct{}

func (noOpEndpoint) Put(ctx context.Context, e *model.Entity) error { return nil }
func (noOpEndpoint) GetNowait(ctx context.Context, timeout time.Duration) (*model.Entity, error) {
	return nil, nil
}
func (noOpEndpoint) Close() error { return nil }

// 确保 NoOpBackend 实现了 Backend 接口
var _ Backend = (*NoOpBackend)(nil)
