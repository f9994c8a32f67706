// Package component 组件运行时
//
// 每个流水线阶段都由 Component 承载：
//   - component.go: 类型、错误、构造
//   - declare.go:   通道/回调声明
//   - loop.go:      主循环与执行通道（lane）
//   - advance.go:   Advance / Publish
//   - lifecycle.go: 两阶段启动与停止
//   - worker.go:    只读 Worker
//   - ownership.go: 未移交实体登记
//   - shaping.go:   clone/drop 钩子
//   - bootstrap.go: 类型注册表与批量启动
//   - process.go:   子进程/进程内隔离
//   - metrics.go:   Prometheus 指标
package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/eventbus"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/queue"
	"pilot-runtime/pkg/logging"
)

// ============================================================================
// 错误
// ============================================================================

var (
	ErrNoStates             = errors.New("no states given")
	ErrNilCallback          = errors.New("nil callback")
	ErrStateChangeForbidden = errors.New("state change forbidden for read-only worker")
	ErrUnknownEntityType    = errors.New("unknown entity type")
	ErrNoRoute              = errors.New("no route")
	ErrStopped              = errors.New("component stopped")
	ErrNotChild             = errors.New("operation only valid inside the child context")
	ErrSubscriberDead       = errors.New("subscriber pump died")
	ErrReadyTimeout         = errors.New("child not ready in time")
	ErrRetentionExpired     = errors.New("ownership retention expired")
)

// WorkerPanicError 回调 panic 转换成的错误
type WorkerPanicError struct {
	Kind  string
	Name  string
	Value any
}

func (e *WorkerPanicError) Error() string {
	return fmt.Sprintf("%s callback %s panicked: %v", e.Kind, e.Name, e.Value)
}

// ============================================================================
// 回调类型
// ============================================================================

// WorkFunc 处理一个到达的实体
type WorkFunc func(ctx context.Context, e *model.Entity) error

// IdleFunc 周期回调
type IdleFunc func(ctx context.Context) error

// NotifyFunc 订阅回调
type NotifyFunc func(ctx context.Context, topic string, n *model.Notification) error

// Side 实例所在一侧
type Side string

const (
	SideParent Side = "parent"
	SideChild  Side = "child"
)

// Phase 实例生命周期阶段
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseFinalizing   Phase = "finalizing"
	PhaseStopped      Phase = "stopped"
)

// Env 组件实例依赖的外部协作者
type Env struct {
	Transport bridge.Transport
	Directory bridge.Directory
	Registrar bridge.Registrar // 可选，父侧注册实例
	Metrics   *Metrics         // 可选
	Tracer    trace.Tracer     // 可选，默认取全局 TracerProvider
	Logger    *logging.Logger
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = logging.Nop()
	}
	if e.Tracer == nil {
		e.Tracer = otel.Tracer("pilot-runtime/component")
	}
	if e.Directory == nil {
		e.Directory = bridge.Directory{}
	}
	return e
}

// ============================================================================
// Component
// ============================================================================

type input struct {
	channel  string
	states   map[model.State]bool
	consumer queue.Consumer
}

type output struct {
	channel  string
	producer queue.Producer // nil 表示终止：实体在此组件结束
}

type subscription struct {
	topic   string
	channel string
	fn      NotifyFunc
	sub     eventbus.Subscriber
	dead    chan struct{}
	err     error
}

// Component 组件实例
//
// 父侧只负责启动/停止隔离上下文；子侧持有声明表并运行主循环。
// 声明只在 InitializeChild 中写入，主循环开始后只读。
type Component struct {
	ctype string
	owner string
	index int
	name  string
	side  Side

	cfg   *config.Config
	env   Env
	stage Stage
	log   *logging.Logger

	readOnly bool

	// 声明表
	inputs        []*input
	workers       map[model.State]WorkFunc
	outputs       map[model.State]*output
	publishers    map[string]eventbus.Publisher
	pubChannel    map[string]string
	subscribers   []*subscription
	idlers        []*idler
	cloneHooks    []CloneHook
	dropHooks     []DropHook
	dropObservers []DropObserver
	producers     map[string]queue.Producer

	own  *Ownership
	lane *lane

	ctx      context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup
	loopDone chan struct{}
	stopDone chan struct{}

	mu        sync.Mutex
	phase     Phase
	finalized bool
	proc      Process
	runner    Runner
	release   func(context.Context) error
}

func newComponent(ctype, owner string, index int, side Side, cfg *config.Config, stage Stage, env Env) *Component {
	env = env.withDefaults()
	if cfg == nil {
		cfg = config.Default()
	}
	name := InstanceName(owner, ctype, index)
	if side == SideChild {
		name = ChildName(name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Component{
		ctype:      ctype,
		owner:      owner,
		index:      index,
		name:       name,
		side:       side,
		cfg:        cfg,
		env:        env,
		stage:      stage,
		log:        env.Logger.Named(name),
		readOnly:   isReadOnly(stage),
		workers:    make(map[model.State]WorkFunc),
		outputs:    make(map[model.State]*output),
		publishers: make(map[string]eventbus.Publisher),
		pubChannel: make(map[string]string),
		producers:  make(map[string]queue.Producer),
		lane:       newLane(),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		stopDone:   make(chan struct{}),
		phase:      PhaseInitializing,
	}
	c.own = NewOwnership(cfg.Ownership)
	return c
}

// New 创建父侧实例，Start 时通过 runner 拉起子侧
func New(ctype string, index int, cfg *config.Config, stage Stage, env Env, runner Runner) *Component {
	owner := ""
	if cfg != nil {
		owner = cfg.SessionID
	}
	c := newComponent(ctype, owner, index, SideParent, cfg, stage, env)
	c.runner = runner
	return c
}

// NewChild 创建子侧实例
func NewChild(spec ChildSpec, stage Stage, env Env) *Component {
	return newComponent(spec.CType, spec.Owner, spec.Index, SideChild, spec.Config, stage, env)
}

// InstanceName 父侧实例名
func InstanceName(owner, ctype string, index int) string {
	if owner == "" {
		return fmt.Sprintf("%s.%04d", ctype, index)
	}
	return fmt.Sprintf("%s.%s.%04d", owner, ctype, index)
}

// ChildName 子侧实例名
func ChildName(name string) string {
	return name + ".child"
}

// Name 实例名
func (c *Component) Name() string { return c.name }

// Type 组件类型
func (c *Component) Type() string { return c.ctype }

// Index 同类型实例序号
func (c *Component) Index() int { return c.index }

// Side 所在一侧
func (c *Component) Side() Side { return c.side }

// Config 本实例的配置副本
func (c *Component) Config() *config.Config { return c.cfg }

// Logger 本实例日志器
func (c *Component) Logger() *logging.Logger { return c.log }

// Ownership 未移交实体登记
func (c *Component) Ownership() *Ownership { return c.own }

// ReadOnly 是否为只读 Worker
func (c *Component) ReadOnly() bool { return c.readOnly }

// Phase 当前生命周期阶段
func (c *Component) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Component) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Terminating 是否已收到终止信号
func (c *Component) Terminating() bool {
	return c.ctx.Err() != nil
}
