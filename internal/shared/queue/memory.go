package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// MemoryBackend - 同进程内存队列
// ============================================================================

// MemoryBackend 进程内队列集合，按名称索引
//
// 只能在同一进程内的组件之间共享，进程隔离模式需要 Redis 后端。
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	closed bool
}

// NewMemoryBackend 创建内存队列后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]*memQueue)}
}

type memQueue struct {
	mu     sync.Mutex
	items  []*model.Entity
	notify chan struct{}
	closed bool
}

func newMemQueue() *memQueue {
	return &memQueue{notify: make(chan struct{}, 1)}
}

func (b *MemoryBackend) get(name string, create bool) (*memQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
		}
		q = newMemQueue()
		b.queues[name] = q
	}
	return q, nil
}

// Declare 确保队列存在
func (b *MemoryBackend) Declare(ctx context.Context, name string) error {
	_, err := b.get(name, true)
	return err
}

// NewProducer 打开写端，队列不存在时自动创建
func (b *MemoryBackend) NewProducer(ctx context.Context, name string) (Producer, error) {
	q, err := b.get(name, true)
	if err != nil {
		return nil, err
	}
	return &memProducer{q: q}, nil
}

// NewConsumer 打开读端，队列不存在时自动创建
func (b *MemoryBackend) NewConsumer(ctx context.Context, name, consumerID string) (Consumer, error) {
	q, err := b.get(name, true)
	if err != nil {
		return nil, err
	}
	return &memConsumer{q: q}, nil
}

// Len 队列长度
func (b *MemoryBackend) Len(ctx context.Context, name string) (int64, error) {
	q, err := b.get(name, false)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Remove 关闭并删除队列，已打开的读写端随之失效
func (b *MemoryBackend) Remove(ctx context.Context, name string) error {
	b.mu.Lock()
	q, ok := b.queues[name]
	delete(b.queues, name)
	b.mu.Unlock()
	if ok {
		q.close()
	}
	return nil
}

// Close 关闭所有队列
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.close()
	}
	b.queues = nil
	return nil
}

func (q *memQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		close(q.notify)
	}
}

func (q *memQueue) put(e *model.Entity) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, e.Clone())
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *memQueue) pop() (*model.Entity, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false, ErrClosed
	}
	if len(q.items) == 0 {
		return nil, false, nil
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	// 还有剩余时继续唤醒其他等待者
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return e, true, nil
}

type memProducer struct {
	q *memQueue
}

func (p *memProducer) Put(ctx context.Context, e *model.Entity) error {
	if e == nil {
		return fmt.Errorf("put nil entity")
	}
	return p.q.put(e)
}

func (p *memProducer) Close() error { return nil }

type memConsumer struct {
	q *memQueue
}

func (c *memConsumer) GetNowait(ctx context.Context, timeout time.Duration) (*model.Entity, error) {
	if e, ok, err := c.q.pop(); ok || err != nil {
		return e, err
	}
	if timeout <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case _, ok := <-c.q.notify:
			if !ok {
				return nil, ErrClosed
			}
			if e, ok, err := c.q.pop(); ok || err != nil {
				return e, err
			}
		}
	}
}

func (c *memConsumer) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
