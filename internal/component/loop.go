package component

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/queue"
)

// 回调类别
const (
	kindWork   = "work"
	kindIdle   = "idle"
	kindNotify = "notify"
	kindSubmit = "submit"
)

// ============================================================================
// lane - 单一执行通道
// ============================================================================

// 所有回调都在主循环 goroutine 上执行；空闲定时器、订阅接收和 Submit
// 只往 lane 里投递事件，由主循环取出执行。
type event struct {
	kind string
	name string
	fn   func(ctx context.Context) error
	done func()
}

type lane struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
	closed bool
}

func newLane() *lane {
	return &lane{notify: make(chan struct{}, 1)}
}

func (l *lane) push(ev event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrStopped
	}
	l.events = append(l.events, ev)
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

func (l *lane) take() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := l.events
	l.events = nil
	return evs
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.events = nil
	l.mu.Unlock()
}

type laneKey struct{}

// onLane ctx 是否来自本实例的执行通道
func (c *Component) onLane(ctx context.Context) bool {
	return ctx != nil && ctx.Value(laneKey{}) == c
}

// Submit 在执行通道上运行 fn，后台 goroutine 延迟 advance 时使用
func (c *Component) Submit(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilCallback
	}
	if c.Terminating() {
		return ErrStopped
	}
	return c.lane.push(event{kind: kindSubmit, name: name, fn: fn})
}

// ============================================================================
// 空闲回调
// ============================================================================

type idler struct {
	name    string
	fn      IdleFunc
	every   time.Duration
	pending atomic.Bool
}

func (c *Component) runIdler(ctx context.Context, id *idler) {
	defer c.bg.Done()
	ticker := time.NewTicker(id.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 上一次还没执行就不再投递，避免堆积
			if !id.pending.CompareAndSwap(false, true) {
				continue
			}
			err := c.lane.push(event{
				kind: kindIdle,
				name: id.name,
				fn:   func(ctx context.Context) error { return id.fn(ctx) },
				done: func() { id.pending.Store(false) },
			})
			if err != nil {
				return
			}
		}
	}
}

// ============================================================================
// 订阅接收
// ============================================================================

const pumpTimeout = 100 * time.Millisecond

func (c *Component) runPump(ctx context.Context, s *subscription) {
	defer c.bg.Done()
	for ctx.Err() == nil {
		m, err := s.sub.Receive(ctx, pumpTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.err = err
			close(s.dead)
			c.log.WithChannel(s.channel).WithError(err).Error("Subscriber pump died", "topic", s.topic)
			return
		}
		if m == nil {
			continue
		}
		var n model.Notification
		if err := json.Unmarshal(m.Data, &n); err != nil {
			c.log.WithChannel(s.channel).WithError(err).Warn("Malformed notification dropped", "topic", s.topic)
			continue
		}
		topic := m.Topic
		err = c.lane.push(event{
			kind: kindNotify,
			name: s.topic,
			fn:   func(ctx context.Context) error { return s.fn(ctx, topic, &n) },
		})
		if err != nil {
			return
		}
	}
}

// checkPumps 内置空闲回调：订阅接收 goroutine 存活检查
func (c *Component) checkPumps(ctx context.Context) error {
	for _, s := range c.subscribers {
		select {
		case <-s.dead:
			return fmt.Errorf("%w: %s/%s: %v", ErrSubscriberDead, s.channel, s.topic, s.err)
		default:
		}
	}
	return nil
}

// ============================================================================
// 回调调用
// ============================================================================

// call 在执行通道上调用一个回调：panic 转为错误，并记录指标和 span
func (c *Component) call(ctx context.Context, kind, name string, fn func(ctx context.Context) error) (err error) {
	ctx, span := c.env.Tracer.Start(ctx, kind+" "+name,
		trace.WithAttributes(
			attribute.String("component", c.name),
			attribute.String("callback.kind", kind),
			attribute.String("callback.name", name),
		))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &WorkerPanicError{Kind: kind, Name: name, Value: r}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.env.Metrics.observeCallback(c.ctype, kind, time.Since(start), err)
	}()
	return fn(ctx)
}

// ============================================================================
// 主循环
// ============================================================================

// loop 主循环，直到 ctx 取消或回调失败（exit_on_error）
func (c *Component) loop(ctx context.Context) error {
	poll := c.cfg.Runtime.PollTimeout
	backoff := c.cfg.Runtime.IdleBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.drain(ctx); err != nil {
			return err
		}

		got := false
		for _, in := range c.inputs {
			if ctx.Err() != nil {
				return nil
			}
			e, err := in.consumer.GetNowait(ctx, poll)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log.WithChannel(in.channel).WithError(err).Error("Input poll failed")
				if errors.Is(err, queue.ErrClosed) {
					return fmt.Errorf("input %s: %w", in.channel, err)
				}
				continue
			}
			if e == nil {
				continue
			}
			got = true
			if err := c.dispatch(ctx, in, e); err != nil {
				return err
			}
		}
		if got {
			continue
		}

		// 一轮无输入：退避，但仍及时处理 lane 事件
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-c.lane.notify:
		case <-timer.C:
		}
	}
}

// drain 执行当前积压的 lane 事件
func (c *Component) drain(ctx context.Context) error {
	for _, ev := range c.lane.take() {
		err := c.call(ctx, ev.kind, ev.name, ev.fn)
		if ev.done != nil {
			ev.done()
		}
		if err == nil {
			continue
		}
		c.log.WithError(err).Error("Callback failed", "kind", ev.kind, "name", ev.name)
		if c.cfg.Runtime.ExitOnError {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// dispatch 校验并分派一个到达的实体
func (c *Component) dispatch(ctx context.Context, in *input, e *model.Entity) error {
	log := c.log.WithChannel(in.channel).WithUID(e.UID).WithState(string(e.State))
	c.env.Metrics.received(c.ctype, in.channel)

	if !in.states[e.State] {
		log.Error("Entity arrived in undeclared state")
		c.failEntity(ctx, e, fmt.Errorf("state %s not accepted on %s", e.State, in.channel))
		return nil
	}

	things := c.shape(ctx, DirectionInput, e)
	for _, t := range things {
		fn := c.workers[t.State]
		if fn == nil {
			log.Error("No worker for shaped entity", "shaped_uid", t.UID, "shaped_state", string(t.State))
			c.failEntity(ctx, t, fmt.Errorf("no worker for state %s", t.State))
			continue
		}
		c.own.Acquire(t)
		c.env.Metrics.setOutstanding(c.ctype, c.name, c.own.Outstanding())

		err := c.call(ctx, kindWork, string(t.State), func(ctx context.Context) error {
			return fn(ctx, t)
		})
		if err == nil {
			continue
		}
		c.log.WithUID(t.UID).WithState(string(t.State)).WithError(err).Error("Worker failed")
		c.failEntity(ctx, t, err)
		if c.cfg.Runtime.ExitOnError {
			return fmt.Errorf("worker for %s: %w", t.UID, err)
		}
	}
	return nil
}
