package eventbus

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// MemoryBackend - 同进程内存总线
// ============================================================================

// MemoryBackend 进程内发布/订阅
type MemoryBackend struct {
	mu       sync.RWMutex
	channels map[string]*memChannel
	closed   bool
}

// NewMemoryBackend 创建内存总线
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{channels: make(map[string]*memChannel)}
}

type memChannel struct {
	name string
	mu   sync.RWMutex
	subs map[*memSubscriber]struct{}
}

func (b *MemoryBackend) channel(name string) (*memChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch, ok := b.channels[name]
	if !ok {
		ch = &memChannel{name: name, subs: make(map[*memSubscriber]struct{})}
		b.channels[name] = ch
	}
	return ch, nil
}

// Declare 确保通道存在
func (b *MemoryBackend) Declare(ctx context.Context, channel string) error {
	_, err := b.channel(channel)
	return err
}

// NewPublisher 打开发布端
func (b *MemoryBackend) NewPublisher(ctx context.Context, channel string) (Publisher, error) {
	ch, err := b.channel(channel)
	if err != nil {
		return nil, err
	}
	return &memPublisher{ch: ch}, nil
}

// NewSubscriber 打开订阅端
func (b *MemoryBackend) NewSubscriber(ctx context.Context, channel string) (Subscriber, error) {
	ch, err := b.channel(channel)
	if err != nil {
		return nil, err
	}
	s := &memSubscriber{
		ch:     ch,
		topics: make(map[string]bool),
		notify: make(chan struct{}, 1),
	}
	ch.mu.Lock()
	ch.subs[s] = struct{}{}
	ch.mu.Unlock()
	return s, nil
}

// Close 关闭总线及全部订阅端
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		subs := ch.subs
		ch.subs = map[*memSubscriber]struct{}{}
		ch.mu.Unlock()
		for s := range subs {
			s.shutdown()
		}
	}
	return nil
}

type memPublisher struct {
	ch *memChannel
}

func (p *memPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	msg := Message{Channel: p.ch.name, Topic: topic, Timestamp: time.Now()}
	p.ch.mu.RLock()
	defer p.ch.mu.RUnlock()
	for s := range p.ch.subs {
		m := msg
		m.Data = append([]byte(nil), data...)
		s.deliver(&m)
	}
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memSubscriber struct {
	ch     *memChannel
	mu     sync.Mutex
	topics map[string]bool
	buf    []*Message
	notify chan struct{}
	closed bool
}

func (s *memSubscriber) Subscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.topics[topic] = true
	return nil
}

func (s *memSubscriber) deliver(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.topics[m.Topic] {
		return
	}
	s.buf = append(s.buf, m)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memSubscriber) pop() (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		m := s.buf[0]
		s.buf[0] = nil
		s.buf = s.buf[1:]
		return m, nil
	}
	if s.closed {
		return nil, ErrClosed
	}
	return nil, nil
}

func (s *memSubscriber) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	if m, err := s.pop(); m != nil || err != nil {
		return m, err
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
		case <-s.notify:
			if m, err := s.pop(); m != nil || err != nil {
				return m, err
			}
		}
	}
}

func (s *memSubscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.notify)
	}
}

func (s *memSubscriber) Close() error {
	s.ch.mu.Lock()
	delete(s.ch.subs, s)
	s.ch.mu.Unlock()
	s.shutdown()
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
