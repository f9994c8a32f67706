package component

import "context"

// Stage 阶段的业务逻辑
//
// InitializeParent/FinalizeParent 在父侧（拉起隔离上下文之前/之后）运行，
// InitializeChild/FinalizeChild 在子侧运行，声明只能在 InitializeChild 中完成。
type Stage interface {
	InitializeParent(ctx context.Context, c *Component) error
	InitializeChild(ctx context.Context, c *Component) error
	FinalizeParent(ctx context.Context, c *Component) error
	FinalizeChild(ctx context.Context, c *Component) error
}

// BaseStage Stage 的空实现，供嵌入
type BaseStage struct{}

func (BaseStage) InitializeParent(ctx context.Context, c *Component) error { return nil }
func (BaseStage) InitializeChild(ctx context.Context, c *Component) error  { return nil }
func (BaseStage) FinalizeParent(ctx context.Context, c *Component) error   { return nil }
func (BaseStage) FinalizeChild(ctx context.Context, c *Component) error    { return nil }

// BaseWorker 只读阶段，嵌入后 Advance 不允许改变实体状态
type BaseWorker struct {
	BaseStage
}

// ReadOnly 标记只读
func (BaseWorker) ReadOnly() bool { return true }

type readOnlyStage interface {
	ReadOnly() bool
}

func isReadOnly(s Stage) bool {
	ro, ok := s.(readOnlyStage)
	return ok && ro.ReadOnly()
}

var (
	_ Stage = BaseStage{}
	_ Stage = BaseWorker{}
)
