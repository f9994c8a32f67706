// Package executor 任务执行阶段
//
// 收到任务后立即发布 EXECUTING 并保持所有权（延迟移交），在后台 goroutine 中
// 启动任务体；结束后回到执行通道写入结果、发出 unschedule 命令归还槽位，
// 再推送到输出搬运队列（或以 FAILED/CANCELED 终止）。
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pilot-runtime/internal/component"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/pkg/logging"
)

// Stage 执行阶段
type Stage struct {
	component.BaseStage

	// Launcher 可执行任务的启动器，为空时按 executor.launcher 配置创建
	Launcher Launcher
	// Funcs 函数任务注册表，为空时函数任务一律失败
	Funcs *FuncRegistry

	c       *component.Component
	log     *logging.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]bool
}

// New 组件工厂
func New() component.Stage {
	return &Stage{}
}

// NewWithFuncs 带函数注册表的工厂
func NewWithFuncs(funcs *FuncRegistry) component.Factory {
	return func() component.Stage {
		return &Stage{Funcs: funcs}
	}
}

func (s *Stage) InitializeChild(ctx context.Context, c *component.Component) error {
	cfg := c.Config()
	s.c = c
	s.log = c.Logger()
	s.timeout = cfg.Executor.Timeout
	s.running = make(map[string]context.CancelFunc)
	s.canceled = make(map[string]bool)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.Launcher == nil {
		switch cfg.Executor.Launcher {
		case "docker":
			l, err := NewDockerLauncher(ctx, cfg.Executor.Image)
			if err != nil {
				return err
			}
			s.Launcher = l
		case "local", "":
			s.Launcher = NewLocalLauncher()
		default:
			return fmt.Errorf("unknown launcher: %s", cfg.Executor.Launcher)
		}
	}
	if s.Funcs == nil {
		s.Funcs = NewFuncRegistry()
	}

	if err := c.DeclareInput([]model.State{model.StateExecutingPending}, pipeline.ExecutingQueue, s.work); err != nil {
		return err
	}
	if err := c.DeclareOutput([]model.State{model.StateStagingOutputPending}, pipeline.StagingOutputQueue); err != nil {
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

	s.log.Info("Executor ready", "launcher", s.Launcher.Name(), "functions", len(s.Funcs.List()), "timeout", s.timeout)
	return nil
}

func (s *Stage) FinalizeChild(ctx context.Context, c *component.Component) error {
	s.cancel()
	s.wg.Wait()
	if closer, ok := s.Launcher.(interface{ Close() error }); ok {
		closer.Close()
	}
	if n := c.Ownership().Outstanding(); n > 0 {
		s.log.Warn("Executor stopped with running tasks", "count", n)
	}
	return nil
}

// Running 正在执行的任务数
func (s *Stage) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// ============================================================================
// 执行
// ============================================================================

func (s *Stage) work(ctx context.Context, e *model.Entity) error {
	if err := s.c.AdvanceOne(ctx, e, model.StateExecuting); err != nil {
		return err
	}

	launcher := s.Launcher
	if e.Task != nil && e.Task.Kind == model.BodyFunction {
		launcher = s.Funcs
	}

	runCtx, cancel := s.runContext()
	s.mu.Lock()
	s.running[e.UID] = cancel
	s.mu.Unlock()

	s.log.WithUID(e.UID).Debug("Task launching", "launcher", launcher.Name())
	s.wg.Add(1)
	go s.launch(runCtx, cancel, launcher, e)
	return nil
}

// runContext 单个任务的运行上下文，配置了超时则带截止时间
func (s *Stage) runContext() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(s.ctx, s.timeout)
	}
	return context.WithCancel(s.ctx)
}

// launch 在后台运行任务体，结果交回执行通道处理
func (s *Stage) launch(ctx context.Context, cancel context.CancelFunc, l Launcher, e *model.Entity) {
	defer s.wg.Done()
	defer cancel()

	start := time.Now()
	res, err := l.Launch(ctx, e)
	elapsed := time.Since(start)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if subErr := s.c.Submit("complete:"+e.UID, func(ctx context.Context) error {
		return s.complete(ctx, e, res, err, elapsed)
	}); subErr != nil {
		s.log.WithUID(e.UID).WithError(subErr).Warn("Task result dropped")
	}
}

// complete 在执行通道上运行：写结果、归还槽位、推送
func (s *Stage) complete(ctx context.Context, e *model.Entity, res *Result, runErr error, elapsed time.Duration) error {
	s.mu.Lock()
	delete(s.running, e.UID)
	canceled := s.canceled[e.UID]
	delete(s.canceled, e.UID)
	s.mu.Unlock()

	if res != nil {
		code := res.ExitCode
		e.ExitCode = &code
		e.Stdout = res.Stdout
		e.Stderr = res.Stderr
	}

	if ch := s.c.Config().Runtime.CommandChannel; ch != "" && s.c.HasChannel(ch) {
		if err := s.c.Command(ctx, model.CmdUnschedule, e); err != nil {
			s.log.WithUID(e.UID).WithError(err).Warn("Unschedule command lost")
		}
	}

	log := s.log.WithUID(e.UID).WithDuration(elapsed)
	switch {
	case canceled:
		log.Info("Task canceled")
		return s.c.AdvanceOne(ctx, e, model.StateCanceled, component.WithPush())
	case errors.Is(runErr, context.DeadlineExceeded):
		e.Stderr = appendLine(e.Stderr, fmt.Sprintf("timeout after %s", s.timeout))
		log.Warn("Task timed out")
		return s.c.AdvanceOne(ctx, e, model.StateFailed, component.WithPush())
	case runErr != nil:
		e.Stderr = appendLine(e.Stderr, runErr.Error())
		log.WithError(runErr).Warn("Task launch failed")
		return s.c.AdvanceOne(ctx, e, model.StateFailed, component.WithPush())
	case e.ExitCode != nil && *e.ExitCode != 0:
		log.Info("Task exited non-zero", "exit_code", *e.ExitCode)
		return s.c.AdvanceOne(ctx, e, model.StateFailed, component.WithPush())
	}
	log.Debug("Task finished")
	return s.c.AdvanceOne(ctx, e, model.StateStagingOutputPending, component.WithPush())
}

func (s *Stage) onCommand(ctx context.Context, topic string, n *model.Notification) error {
	if n.Cmd != model.CmdCancel {
		return nil
	}
	var uids []string
	if err := n.Decode(&uids); err != nil {
		return fmt.Errorf("decode cancel: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		if cancel, ok := s.running[uid]; ok {
			s.canceled[uid] = true
			cancel()
			s.log.WithUID(uid).Info("Canceling task")
		}
	}
	return nil
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
