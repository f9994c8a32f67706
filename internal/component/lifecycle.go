package component

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// 父侧
// ============================================================================

// Start 父侧启动：InitializeParent → 注册 → 拉起子侧并等待就绪
//
// 任一步失败都会拆除实例并返回错误。
func (c *Component) Start(ctx context.Context) error {
	if c.side != SideParent {
		return fmt.Errorf("start %s: not a parent instance", c.name)
	}
	if c.runner == nil {
		return fmt.Errorf("start %s: no runner", c.name)
	}
	c.log.Info("Starting component", "type", c.ctype, "index", c.index)

	if err := c.stage.InitializeParent(ctx, c); err != nil {
		c.teardown(ctx)
		return fmt.Errorf("initialize parent %s: %w", c.name, err)
	}

	if c.env.Registrar != nil {
		release, err := c.env.Registrar.Register(ctx, c.name, c.ctype)
		if err != nil {
			c.teardown(ctx)
			return err
		}
		c.release = release
	}

	proc, err := c.runner.Spawn(ctx, c.childSpec())
	if err != nil {
		c.teardown(ctx)
		return fmt.Errorf("spawn %s: %w", c.name, err)
	}

	c.mu.Lock()
	c.proc = proc
	c.phase = PhaseRunning
	c.mu.Unlock()
	c.log.Info("Component running", "child", ChildName(c.name))
	return nil
}

// teardown 启动失败时停止，错误只记录
func (c *Component) teardown(ctx context.Context) {
	if err := c.Stop(ctx); err != nil {
		c.log.WithError(err).Warn("Teardown after failed start")
	}
}

func (c *Component) childSpec() ChildSpec {
	return ChildSpec{
		CType:     c.ctype,
		Owner:     c.owner,
		Index:     c.index,
		Config:    c.cfg.Clone(),
		Directory: c.env.Directory.Clone(),
	}
}

// Alive 子侧是否仍在运行
func (c *Component) Alive() bool {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	return proc != nil && proc.Alive()
}

// Wait 等待子侧退出，返回其错误
func (c *Component) Wait() error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Wait()
}

// ============================================================================
// 子侧
// ============================================================================

// RunChild 子侧运行：声明 → 就绪握手 → 主循环 → 停止
//
// ready 在进入主循环前调用一次，参数为初始化结果。
func (c *Component) RunChild(ctx context.Context, ready func(error)) error {
	if c.side != SideChild {
		ready(ErrNotChild)
		return ErrNotChild
	}

	// 外部 ctx 取消等同于 Stop
	go func() {
		select {
		case <-ctx.Done():
			c.Stop(context.Background())
		case <-c.stopDone:
		}
	}()

	if err := c.initChild(ctx); err != nil {
		ready(err)
		c.Stop(context.Background())
		c.closeEndpoints()
		return err
	}
	ready(nil)

	if !c.enterRunning() {
		<-c.stopDone
		c.closeEndpoints()
		return nil
	}
	c.log.Info("Component running", "inputs", len(c.inputs), "subscribers", len(c.subscribers), "idlers", len(c.idlers))

	laneCtx := context.WithValue(c.ctx, laneKey{}, c)
	err := c.loop(laneCtx)
	close(c.loopDone)
	if err != nil {
		c.log.WithError(err).Error("Main loop failed")
	}

	c.Stop(context.Background())
	<-c.stopDone
	c.closeEndpoints()
	return err
}

func (c *Component) initChild(ctx context.Context) error {
	rt := c.cfg.Runtime
	if rt.StateChannel != "" && c.HasChannel(rt.StateChannel) {
		if err := c.DeclarePublisher(model.TopicState, rt.StateChannel); err != nil {
			return err
		}
	}
	if rt.CommandChannel != "" && c.HasChannel(rt.CommandChannel) {
		if err := c.DeclarePublisher(model.TopicCommand, rt.CommandChannel); err != nil {
			return err
		}
	}
	c.cloneHooks, c.dropHooks = configHooks(c.cfg.Shaping, c.ctype)

	if err := c.stage.InitializeChild(ctx, c); err != nil {
		return fmt.Errorf("initialize child %s: %w", c.name, err)
	}
	if err := c.sanityCheck(); err != nil {
		return err
	}

	if len(c.subscribers) > 0 {
		if err := c.DeclareIdleCallback("liveness", c.checkPumps, time.Second); err != nil {
			return err
		}
	}
	reapEvery := c.cfg.Ownership.ReapInterval
	if reapEvery <= 0 {
		reapEvery = time.Second
	}
	return c.DeclareIdleCallback("ownership", c.reap, reapEvery)
}

// enterRunning 切换到运行并启动后台 goroutine；初始化期间已被停止时返回 false
func (c *Component) enterRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return false
	}
	c.phase = PhaseRunning
	c.startBackground()
	return true
}

func (c *Component) startBackground() {
	for _, id := range c.idlers {
		c.bg.Add(1)
		go c.runIdler(c.ctx, id)
	}
	for _, s := range c.subscribers {
		c.bg.Add(1)
		go c.runPump(c.ctx, s)
	}
}

// ============================================================================
// 停止
// ============================================================================

// Stop 停止实例，可重复调用
//
// 子侧：发出终止信号，等待后台 goroutine；不在执行通道上调用时同时等待
// 主循环，然后运行 FinalizeChild。父侧：终止子侧，然后运行 FinalizeParent。
// finalize 出错只记录日志。
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return nil
	}
	c.finalized = true
	started := c.phase != PhaseInitializing
	c.phase = PhaseFinalizing
	proc := c.proc
	c.mu.Unlock()
	defer close(c.stopDone)

	c.cancel()
	c.lane.close()

	var errs []error
	switch c.side {
	case SideChild:
		c.bg.Wait()
		if started && !c.onLane(ctx) {
			<-c.loopDone
		}
		if err := c.stage.FinalizeChild(ctx, c); err != nil {
			c.log.WithError(err).Error("Finalize child failed")
		}
	case SideParent:
		if proc != nil {
			if err := c.terminate(ctx, proc); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.stage.FinalizeParent(ctx, c); err != nil {
			c.log.WithError(err).Error("Finalize parent failed")
		}
		if c.release != nil {
			if err := c.release(ctx); err != nil {
				c.log.WithError(err).Warn("Deregister failed")
			}
		}
	}

	c.setPhase(PhaseStopped)
	c.log.Info("Component stopped")
	return errors.Join(errs...)
}

func (c *Component) terminate(ctx context.Context, proc Process) error {
	timeout := c.cfg.Runtime.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := proc.Terminate(tctx); err != nil {
		return fmt.Errorf("terminate %s: %w", c.name, err)
	}
	return nil
}

func (c *Component) closeEndpoints() {
	for _, in := range c.inputs {
		in.consumer.Close()
	}
	for _, p := range c.producers {
		p.Close()
	}
	for _, p := range c.publishers {
		p.Close()
	}
	for _, s := range c.subscribers {
		s.sub.Close()
	}
}
