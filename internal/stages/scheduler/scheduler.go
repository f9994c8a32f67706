// Package scheduler 参考调度器
//
// 在 Pilot 的节点/核视图上为任务分配槽位：
//   - 分配成功 → STAGING_INPUT_PENDING，推送到输入搬运队列
//   - 暂时放不下 → 留在等待池（保持所有权），收到 unschedule 命令或空闲回调时重试
//   - 永远放不下 → FAILED（终止）
//
// clone 钩子为出口处生成的副本重新分配槽位，被吸收的副本归还槽位。
package scheduler

import (
	"context"
	"fmt"

	"pilot-runtime/internal/component"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/pkg/logging"
)

// Stage 调度阶段，每个子侧实例一份
type Stage struct {
	component.BaseStage

	c        *component.Component
	log      *logging.Logger
	res      *Resources
	chain    *StrategyChain
	pilotUID string

	held    map[string]*model.Slots
	waiting []*model.Entity
}

// New 组件工厂
func New() component.Stage {
	return &Stage{}
}

func (s *Stage) InitializeChild(ctx context.Context, c *component.Component) error {
	cfg := c.Config()
	s.c = c
	s.log = c.Logger()
	s.res = NewResources(cfg.Scheduler.Nodes, cfg.Scheduler.CoresPerNode, cfg.Scheduler.GPUsPerNode)
	s.chain = NewStrategyChain(NewStrategy(cfg.Scheduler.Strategy))
	s.pilotUID = cfg.SessionID + ".pilot.0000"
	s.held = make(map[string]*model.Slots)

	if err := c.DeclareInput([]model.State{model.StateSchedulingPending}, pipeline.SchedulingQueue, s.work); err != nil {
		return err
	}
	if err := c.DeclareOutput([]model.State{model.StateStagingInputPending}, pipeline.StagingInputQueue); err != nil {
		return err
	}
	if err := c.DeclareOutput([]model.State{model.StateFailed, model.StateCanceled}, ""); err != nil {
		return err
	}
	if ch := cfg.Runtime.CommandChannel; ch != "" && c.HasChannel(ch) {
		if err := c.DeclareSubscriber(model.TopicCommand, ch, s.onCommand); err != nil {
			return err
		}
	}
	if err := c.DeclareIdleCallback("retry", s.retry, cfg.Scheduler.RetryEvery); err != nil {
		return err
	}
	if err := c.DeclareCloneHook(s.cloneHook); err != nil {
		return err
	}
	if err := c.DeclareDropObserver(s.onDrop); err != nil {
		return err
	}

	s.log.Info("Scheduler ready", "strategy", cfg.Scheduler.Strategy, "resources", s.res.String())
	return nil
}

func (s *Stage) FinalizeChild(ctx context.Context, c *component.Component) error {
	if len(s.waiting) > 0 {
		s.log.Warn("Scheduler stopped with waiting tasks", "count", len(s.waiting))
	}
	return nil
}

// ============================================================================
// 调度
// ============================================================================

func (s *Stage) work(ctx context.Context, e *model.Entity) error {
	if e.IsPilot() {
		s.adopt(e)
		return nil
	}

	req := RequestOf(e)
	if !s.res.Fits(req.Cores, req.GPUs) {
		e.Stderr = fmt.Sprintf("unschedulable: needs %d cores / %d gpus, pilot has %d cores", req.Cores, req.GPUs, s.res.Capacity())
		return s.c.AdvanceOne(ctx, e, model.StateFailed, component.WithPush())
	}

	placed, err := s.place(ctx, e)
	if err != nil {
		return err
	}
	if !placed {
		s.waiting = append(s.waiting, e)
		s.log.WithUID(e.UID).Debug("Task waiting for slots", "cores", req.Cores, "free", s.res.Free(), "waiting", len(s.waiting))
	}
	return nil
}

// place 尝试分配，成功时推送到下一阶段
func (s *Stage) place(ctx context.Context, e *model.Entity) (bool, error) {
	slots, strategy := s.chain.Allocate(s.res, RequestOf(e))
	if slots == nil {
		return false, nil
	}
	s.res.claim(slots)
	s.held[e.UID] = slots
	e.AssignSlots(s.pilotUID, slots)
	s.log.WithUID(e.UID).Debug("Task scheduled", "strategy", strategy, "cores", slots.CoreCount())
	return true, s.c.AdvanceOne(ctx, e, model.StateStagingInputPending, component.WithPush())
}

// retry 按到达顺序重试等待池，允许小任务越过大任务
func (s *Stage) retry(ctx context.Context) error {
	if len(s.waiting) == 0 {
		return nil
	}
	var rest []*model.Entity
	var errs []error
	for _, e := range s.waiting {
		placed, err := s.place(ctx, e)
		if err != nil {
			errs = append(errs, err)
		}
		if !placed {
			rest = append(rest, e)
		}
	}
	s.waiting = rest
	if len(errs) > 0 {
		return fmt.Errorf("retry: %d tasks failed to advance: %w", len(errs), errs[0])
	}
	return nil
}

// unschedule 归还槽位，返回是否由本实例分配
func (s *Stage) unschedule(uid string) bool {
	slots, ok := s.held[uid]
	if !ok {
		return false
	}
	s.res.Release(slots)
	delete(s.held, uid)
	return true
}

// adopt 用 Pilot 描述扩充资源视图
func (s *Stage) adopt(p *model.Entity) {
	defer s.c.Ownership().Release(p.UID)
	if p.Pilot == nil {
		return
	}
	for _, n := range p.Pilot.Nodes {
		s.res.AddNode(n, p.Pilot.Cores, p.Pilot.GPUs)
	}
	s.pilotUID = p.UID
	s.log.WithUID(p.UID).Info("Pilot adopted", "resources", s.res.String())
}

// ============================================================================
// 通知与钩子
// ============================================================================

func (s *Stage) onCommand(ctx context.Context, topic string, n *model.Notification) error {
	switch n.Cmd {
	case model.CmdUnschedule:
		var e model.Entity
		if err := n.Decode(&e); err != nil {
			return fmt.Errorf("decode unschedule: %w", err)
		}
		if s.unschedule(e.UID) {
			return s.retry(ctx)
		}
	case model.CmdCancel:
		var uids []string
		if err := n.Decode(&uids); err != nil {
			return fmt.Errorf("decode cancel: %w", err)
		}
		return s.cancel(ctx, uids)
	}
	return nil
}

// cancel 取消仍在等待池中的任务
func (s *Stage) cancel(ctx context.Context, uids []string) error {
	want := make(map[string]bool, len(uids))
	for _, uid := range uids {
		want[uid] = true
	}
	var rest, canceled []*model.Entity
	for _, e := range s.waiting {
		if want[e.UID] {
			canceled = append(canceled, e)
			continue
		}
		rest = append(rest, e)
	}
	s.waiting = rest
	if len(canceled) == 0 {
		return nil
	}
	return s.c.Advance(ctx, canceled, model.StateCanceled, component.WithPush())
}

// cloneHook 出口处的副本带着原任务的槽位，需要重新分配
func (s *Stage) cloneHook(ctx context.Context, e *model.Entity, dir component.Direction) []*model.Entity {
	if dir != component.DirectionOutput || !e.IsClone() || e.Slots == nil {
		return []*model.Entity{e}
	}
	if _, ok := s.held[e.UID]; ok {
		return []*model.Entity{e}
	}
	slots, _ := s.chain.Allocate(s.res, RequestOf(e))
	if slots == nil {
		s.log.WithUID(e.UID).Warn("No slots for clone, dropping it")
		return nil
	}
	s.res.claim(slots)
	s.held[e.UID] = slots
	e.AssignSlots(s.pilotUID, slots)
	return []*model.Entity{e}
}

func (s *Stage) onDrop(ctx context.Context, e *model.Entity, dir component.Direction) {
	if s.unschedule(e.UID) {
		s.log.WithUID(e.UID).Debug("Slots released for dropped task")
	}
}

// Waiting 等待池长度
func (s *Stage) Waiting() int { return len(s.waiting) }

// Resources 资源视图
func (s *Stage) Resources() *Resources { return s.res }
