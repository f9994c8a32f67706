// Package stager 输入/输出数据搬运阶段
//
// 输入阶段创建任务沙箱并按 input_staging 拉取数据；输出阶段按 output_staging 上传结果。
// 指令中以 object:// 开头的一端指向 MinIO 对象，另一端为沙箱内相对路径。
package stager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"pilot-runtime/internal/component"
	objstore "pilot-runtime/internal/shared/minio"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/pkg/logging"
)

// base 两个方向共用的对象存储与沙箱
type base struct {
	component.BaseStage

	// Store 为空且 staging.enabled 时在 InitializeChild 中连接 MinIO
	Store ObjectStore

	c   *component.Component
	log *logging.Logger
}

func (b *base) setup(ctx context.Context, c *component.Component) error {
	b.c = c
	b.log = c.Logger()
	cfg := c.Config().Staging
	if b.Store != nil || !cfg.Enabled {
		return nil
	}
	client, err := objstore.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}
	b.Store = client
	b.log.Info("Object store connected", "endpoint", cfg.Endpoint, "bucket", client.Bucket())
	return nil
}

// fail 记录错误并推送到终止输出
func (b *base) fail(ctx context.Context, e *model.Entity, err error) error {
	e.Stderr = err.Error()
	return b.c.AdvanceOne(ctx, e, model.StateFailed, component.WithPush())
}

// ============================================================================
// Input - STAGING_INPUT_PENDING → EXECUTING_PENDING
// ============================================================================

// Input 输入搬运
type Input struct {
	base
}

// NewInput 组件工厂
func NewInput() component.Stage {
	return &Input{}
}

func (s *Input) InitializeChild(ctx context.Context, c *component.Component) error {
	if err := s.setup(ctx, c); err != nil {
		return err
	}
	if err := c.DeclareInput([]model.State{model.StateStagingInputPending}, pipeline.StagingInputQueue, s.work); err != nil {
		return err
	}
	if err := c.DeclareOutput([]model.State{model.StateExecutingPending}, pipeline.ExecutingQueue); err != nil {
		return err
	}
	return c.DeclareOutput([]model.State{model.StateFailed}, "")
}

func (s *Input) work(ctx context.Context, e *model.Entity) error {
	if e.IsPilot() {
		return s.c.AdvanceOne(ctx, e, model.StateExecutingPending, component.WithPush())
	}

	sandbox := filepath.Join(s.c.Config().Runtime.SandboxRoot, e.UID)
	if err := os.MkdirAll(sandbox, 0o755); err != nil {
		return s.fail(ctx, e, fmt.Errorf("create sandbox: %w", err))
	}
	e.Sandbox = sandbox

	if e.Task != nil {
		for i, d := range e.Task.InputStaging {
			if err := stageIn(ctx, s.Store, sandbox, d); err != nil {
				return s.fail(ctx, e, fmt.Errorf("input staging #%d %s → %s: %w", i, d.Source, d.Target, err))
			}
		}
		s.log.WithUID(e.UID).Debug("Input staged", "directives", len(e.Task.InputStaging), "sandbox", sandbox)
	}
	return s.c.AdvanceOne(ctx, e, model.StateExecutingPending, component.WithPush())
}

// ============================================================================
// Output - STAGING_OUTPUT_PENDING → DONE
// ============================================================================

// Output 输出搬运，完成后任务离开流水线
type Output struct {
	base
}

// NewOutput 组件工厂
func NewOutput() component.Stage {
	return &Output{}
}

func (s *Output) InitializeChild(ctx context.Context, c *component.Component) error {
	if err := s.setup(ctx, c); err != nil {
		return err
	}
	if err := c.DeclareInput([]model.State{model.StateStagingOutputPending}, pipeline.StagingOutputQueue, s.work); err != nil {
		return err
	}
	return c.DeclareOutput([]model.State{model.StateDone, model.StateFailed}, "")
}

func (s *Output) work(ctx context.Context, e *model.Entity) error {
	if e.Task != nil && len(e.Task.OutputStaging) > 0 {
		if e.Sandbox == "" {
			return s.fail(ctx, e, fmt.Errorf("output staging without sandbox"))
		}
		for i, d := range e.Task.OutputStaging {
			if err := stageOut(ctx, s.Store, e.Sandbox, d); err != nil {
				return s.fail(ctx, e, fmt.Errorf("output staging #%d %s → %s: %w", i, d.Source, d.Target, err))
			}
		}
		s.log.WithUID(e.UID).Debug("Output staged", "directives", len(e.Task.OutputStaging))
	}
	return s.c.AdvanceOne(ctx, e, model.StateDone, component.WithPush())
}

var _ ObjectStore = (*objstore.Client)(nil)
