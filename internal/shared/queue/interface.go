// Package queue 竞争消费队列抽象
//
// 一条消息只会交给一个消费者。实现有内存（同进程）和 Redis Streams（跨进程）两种。
// 队列在生产者和消费者之间传递实体的深拷贝，生产者入队后再修改实体不会影响消费者。
package queue

import (
	"context"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// Producer 队列写端
type Producer interface {
	// Put 入队，实体被复制后发送
	Put(ctx context.Context, e *model.Entity) error
	Close() error
}

// Consumer 队列读端
type Consumer interface {
	// GetNowait 最多等待 timeout 取一个实体；队列为空时返回 (nil, nil)
	GetNowait(ctx context.Context, timeout time.Duration) (*model.Entity, error)
	Close() error
}

// Backend 按队列名打开读写端
type Backend interface {
	// Declare 确保队列存在（Redis 下创建 Stream 与消费组）
	Declare(ctx context.Context, name string) error
	NewProducer(ctx context.Context, name string) (Producer, error)
	NewConsumer(ctx context.Context, name, consumerID string) (Consumer, error)
	// Len 队列中尚未被取走的消息数
	Len(ctx context.Context, name string) (int64, error)
	// Remove 删除队列
	Remove(ctx context.Context, name string) error
	Close() error
}
