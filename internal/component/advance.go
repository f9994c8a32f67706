package component

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// Advance 选项
// ============================================================================

type advanceOptions struct {
	publish bool
	push    bool
	ts      time.Time
}

// AdvanceOption Advance 选项
type AdvanceOption func(*advanceOptions)

// WithPush 推送到新状态对应的输出通道
func WithPush() AdvanceOption {
	return func(o *advanceOptions) { o.push = true }
}

// WithoutPublish 不发布 state 通知
func WithoutPublish() AdvanceOption {
	return func(o *advanceOptions) { o.publish = false }
}

// WithTimestamp 指定历史时间戳
func WithTimestamp(ts time.Time) AdvanceOption {
	return func(o *advanceOptions) { o.ts = ts }
}

// ============================================================================
// Advance
// ============================================================================

// Advance 迁移状态、发布通知、推送到下一阶段
//
// state 为空时保持原状态。推送时：状态没有输出绑定只记录日志；
// 绑定为空（终止）则经过 shaping 后静默丢弃。
// 推送或进入终态即移交所有权。
func (c *Component) Advance(ctx context.Context, entities []*model.Entity, state model.State, opts ...AdvanceOption) error {
	if c.readOnly && state != "" {
		return fmt.Errorf("%w: %s", ErrStateChangeForbidden, state)
	}
	o := advanceOptions{publish: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ts.IsZero() {
		o.ts = time.Now()
	}

	var errs []error
	for _, e := range entities {
		if e == nil {
			continue
		}
		if !e.Type.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s (%q)", ErrUnknownEntityType, e.UID, e.Type))
			continue
		}
		if state != "" {
			if err := e.Transition(state, o.ts); err != nil {
				errs = append(errs, err)
				continue
			}
			c.env.Metrics.advanced(c.ctype, state)
		}
		if o.publish {
			if !c.hasPublisher(model.TopicState) {
				c.log.WithUID(e.UID).Warn("No route for state notification", "state", e.State)
			} else if err := c.publishUpdate(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		if o.push {
			if err := c.push(ctx, e); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if e.State.IsFinal() {
			c.own.Release(e.UID)
		}
	}
	c.env.Metrics.setOutstanding(c.ctype, c.name, c.own.Outstanding())
	return errors.Join(errs...)
}

// AdvanceOne Advance 的单实体形式
func (c *Component) AdvanceOne(ctx context.Context, e *model.Entity, state model.State, opts ...AdvanceOption) error {
	return c.Advance(ctx, []*model.Entity{e}, state, opts...)
}

func (c *Component) push(ctx context.Context, e *model.Entity) error {
	defer c.own.Release(e.UID)

	out, ok := c.outputs[e.State]
	if !ok {
		c.log.WithUID(e.UID).WithState(string(e.State)).Error("No output route for state")
		c.env.Metrics.dropped(c.ctype, "no_route")
		return nil
	}

	things := c.shape(ctx, DirectionOutput, e)
	if out.producer == nil {
		c.log.EntityLog("terminal", e.UID, string(e.State))
		c.env.Metrics.dropped(c.ctype, "terminal")
		return nil
	}

	var errs []error
	for _, t := range things {
		if err := out.producer.Put(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("push %s to %s: %w", t.UID, out.channel, err))
			continue
		}
		c.env.Metrics.pushed(c.ctype, out.channel)
		c.log.EntityLog("push", t.UID, string(t.State), "channel", out.channel)
	}
	return errors.Join(errs...)
}

// failEntity 把实体置为 FAILED 并发布，不推送；已处于终态的实体同样追加 FAILED
func (c *Component) failEntity(ctx context.Context, e *model.Entity, cause error) {
	defer c.own.Release(e.UID)
	e.SetState(model.StateFailed, time.Now())
	c.env.Metrics.advanced(c.ctype, model.StateFailed)
	c.log.WithUID(e.UID).WithError(cause).Warn("Entity failed")
	if !c.hasPublisher(model.TopicState) {
		return
	}
	if err := c.publishUpdate(ctx, e); err != nil {
		c.log.WithUID(e.UID).WithError(err).Error("Failure notification lost")
	}
}

// ============================================================================
// Publish
// ============================================================================

func (c *Component) hasPublisher(topic string) bool {
	_, ok := c.publishers[topic]
	return ok
}

func (c *Component) publishUpdate(ctx context.Context, e *model.Entity) error {
	n, err := model.NewUpdate(e)
	if err != nil {
		return err
	}
	return c.Publish(ctx, model.TopicState, n)
}

// Publish 在已声明的主题上发布通知
func (c *Component) Publish(ctx context.Context, topic string, n *model.Notification) error {
	pub, ok := c.publishers[topic]
	if !ok {
		c.log.Warn("Publish on undeclared topic", "topic", topic)
		return fmt.Errorf("%w: topic %s", ErrNoRoute, topic)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := pub.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("publish %s on %s: %w", topic, c.pubChannel[topic], err)
	}
	c.env.Metrics.published(c.ctype, topic)
	return nil
}

// Command 在 command 主题上发布命令
func (c *Component) Command(ctx context.Context, cmd string, arg any) error {
	n, err := model.NewCommand(cmd, arg)
	if err != nil {
		return err
	}
	return c.Publish(ctx, model.TopicCommand, n)
}
