package component

import (
	"fmt"
	"sort"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// 声明 API（只在 InitializeChild 中调用）
// ============================================================================

func (c *Component) checkDeclare() error {
	if c.side != SideChild {
		return ErrNotChild
	}
	return nil
}

// checkStates 状态集合非空且不含空状态；阶段可以声明自定义状态
func checkStates(states []model.State) error {
	if len(states) == 0 {
		return ErrNoStates
	}
	for _, s := range states {
		if s == "" {
			return fmt.Errorf("%w: empty state", ErrNoStates)
		}
	}
	return nil
}

// DeclareInput 把一组状态绑定到输入通道和 worker
//
// 同一状态重复绑定时后者覆盖前者，并记录冲突。
func (c *Component) DeclareInput(states []model.State, channel string, fn WorkFunc) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if err := checkStates(states); err != nil {
		return fmt.Errorf("input %s: %w", channel, err)
	}
	if fn == nil {
		return fmt.Errorf("input %s: %w", channel, ErrNilCallback)
	}
	addr, err := c.env.Directory.Lookup(channel)
	if err != nil {
		return err
	}

	in := c.findInput(channel)
	if in == nil {
		consumer, err := c.env.Transport.OpenConsumer(c.ctx, addr.Source, c.name)
		if err != nil {
			return fmt.Errorf("open input %s: %w", channel, err)
		}
		in = &input{channel: channel, states: make(map[model.State]bool), consumer: consumer}
		c.inputs = append(c.inputs, in)
	}

	for _, s := range states {
		if _, exists := c.workers[s]; exists {
			c.log.Warn("Worker rebound", "state", string(s), "channel", channel)
		}
		c.workers[s] = fn
		in.states[s] = true
	}
	c.log.Debug("Input declared", "channel", channel, "states", stateNames(states))
	return nil
}

func (c *Component) findInput(channel string) *input {
	for _, in := range c.inputs {
		if in.channel == channel {
			return in
		}
	}
	return nil
}

// DeclareOutput 把一组状态绑定到输出通道；channel 为空表示终止
func (c *Component) DeclareOutput(states []model.State, channel string) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if err := checkStates(states); err != nil {
		return fmt.Errorf("output %s: %w", channel, err)
	}

	out := &output{channel: channel}
	if channel != "" {
		p, ok := c.producers[channel]
		if !ok {
			addr, err := c.env.Directory.Lookup(channel)
			if err != nil {
				return err
			}
			p, err = c.env.Transport.OpenProducer(c.ctx, addr.Sink)
			if err != nil {
				return fmt.Errorf("open output %s: %w", channel, err)
			}
			c.producers[channel] = p
		}
		out.producer = p
	}

	for _, s := range states {
		if prev, exists := c.outputs[s]; exists && prev.channel != channel {
			c.log.Warn("Output rebound", "state", string(s), "from", prev.channel, "to", channel)
		}
		c.outputs[s] = out
	}
	c.log.Debug("Output declared", "channel", channel, "states", stateNames(states))
	return nil
}

// DeclareIdleCallback 注册周期回调，间隔不小于 every（<=0 取默认值）
func (c *Component) DeclareIdleCallback(name string, fn IdleFunc, every time.Duration) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("idler %s: %w", name, ErrNilCallback)
	}
	if every <= 0 {
		every = c.cfg.Runtime.IdleTimeout
	}
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	c.idlers = append(c.idlers, &idler{name: name, fn: fn, every: every})
	return nil
}

// DeclarePublisher 把主题绑定到发布通道
func (c *Component) DeclarePublisher(topic, channel string) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if topic == "" {
		return fmt.Errorf("publisher on %s: empty topic", channel)
	}
	addr, err := c.env.Directory.Lookup(channel)
	if err != nil {
		return err
	}
	pub, err := c.env.Transport.OpenPublisher(c.ctx, addr.Sink)
	if err != nil {
		return fmt.Errorf("open publisher %s/%s: %w", channel, topic, err)
	}
	if prev, ok := c.publishers[topic]; ok {
		prev.Close()
	}
	c.publishers[topic] = pub
	c.pubChannel[topic] = channel
	return nil
}

// DeclareSubscriber 订阅通道上的主题，每个订阅有独立的接收 goroutine
func (c *Component) DeclareSubscriber(topic, channel string, fn NotifyFunc) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("subscriber %s/%s: %w", channel, topic, ErrNilCallback)
	}
	addr, err := c.env.Directory.Lookup(channel)
	if err != nil {
		return err
	}
	sub, err := c.env.Transport.OpenSubscriber(c.ctx, addr.Source)
	if err != nil {
		return fmt.Errorf("open subscriber %s: %w", channel, err)
	}
	if err := sub.Subscribe(c.ctx, topic); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s/%s: %w", channel, topic, err)
	}
	c.subscribers = append(c.subscribers, &subscription{
		topic:   topic,
		channel: channel,
		fn:      fn,
		sub:     sub,
		dead:    make(chan struct{}),
	})
	return nil
}

// DeclareCloneHook 注册 clone 钩子，只作用于任务
func (c *Component) DeclareCloneHook(fn CloneHook) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("clone hook: %w", ErrNilCallback)
	}
	c.cloneHooks = append(c.cloneHooks, fn)
	return nil
}

// DeclareDropHook 注册 drop 钩子，只作用于任务
func (c *Component) DeclareDropHook(fn DropHook) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("drop hook: %w", ErrNilCallback)
	}
	c.dropHooks = append(c.dropHooks, fn)
	return nil
}

// DeclareDropObserver 注册吸收通知
func (c *Component) DeclareDropObserver(fn DropObserver) error {
	if err := c.checkDeclare(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("drop observer: %w", ErrNilCallback)
	}
	c.dropObservers = append(c.dropObservers, fn)
	return nil
}

// InputStates 已声明的输入状态（排序）
func (c *Component) InputStates() []model.State {
	out := make([]model.State, 0, len(c.workers))
	for s := range c.workers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasChannel 地址目录中是否有该通道
func (c *Component) HasChannel(channel string) bool {
	return c.env.Directory.Has(channel)
}

// sanityCheck 进入主循环前的声明检查
func (c *Component) sanityCheck() error {
	for _, in := range c.inputs {
		for s := range in.states {
			if c.workers[s] == nil {
				return fmt.Errorf("input %s: state %s has no worker", in.channel, s)
			}
		}
	}
	return nil
}

func stateNames(states []model.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
