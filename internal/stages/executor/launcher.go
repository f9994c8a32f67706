package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"

	"pilot-runtime/internal/shared/model"
)

// Result 一次执行的结果
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Launcher 启动任务体并等待其结束
//
// 返回 error 表示没能运行（找不到程序、容器创建失败等），
// 程序自身的非零退出码放在 Result 中。
type Launcher interface {
	Name() string
	Launch(ctx context.Context, e *model.Entity) (*Result, error)
}

// ErrUnknownFunction 函数任务引用了未注册的名称
var ErrUnknownFunction = errors.New("unknown task function")

// taskEnv 任务可见的环境变量
func taskEnv(e *model.Entity) map[string]string {
	env := map[string]string{
		"PILOT_TASK_UID": e.UID,
		"PILOT_SANDBOX":  e.Sandbox,
	}
	if e.Slots != nil {
		env["PILOT_CORES"] = strconv.Itoa(e.Slots.CoreCount())
	}
	if e.PilotUID != "" {
		env["PILOT_UID"] = e.PilotUID
	}
	if e.Task != nil {
		for k, v := range e.Task.Environment {
			env[k] = v
		}
	}
	return env
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// LocalLauncher - 本机子进程
// ============================================================================

// LocalLauncher 在沙箱目录中以子进程运行可执行程序
type LocalLauncher struct{}

// NewLocalLauncher 创建本机启动器
func NewLocalLauncher() *LocalLauncher {
	return &LocalLauncher{}
}

func (l *LocalLauncher) Name() string { return "local" }

func (l *LocalLauncher) Launch(ctx context.Context, e *model.Entity) (*Result, error) {
	if e.Task == nil || e.Task.Executable == "" {
		return nil, fmt.Errorf("task %s has no executable", e.UID)
	}
	cmd := exec.CommandContext(ctx, e.Task.Executable, e.Task.Arguments...)
	cmd.Dir = e.Sandbox
	cmd.Env = append(os.Environ(), envList(taskEnv(e))...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, fmt.Errorf("run %s: %w", e.Task.Executable, err)
}

// ============================================================================
// FuncRegistry - 已注册函数
// ============================================================================

// TaskFunc 函数任务体
type TaskFunc func(ctx context.Context, task model.TaskDescription, sandbox string) (*Result, error)

// FuncRegistry 按名称查找函数任务体，不做任何运行时求值
type FuncRegistry struct {
	mu    sync.RWMutex
	funcs map[string]TaskFunc
}

// NewFuncRegistry 创建注册表
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{funcs: make(map[string]TaskFunc)}
}

// Register 注册函数，同名覆盖
func (r *FuncRegistry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Get 获取函数
func (r *FuncRegistry) Get(name string) (TaskFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// List 列出已注册名称
func (r *FuncRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *FuncRegistry) Name() string { return "function" }

func (r *FuncRegistry) Launch(ctx context.Context, e *model.Entity) (*Result, error) {
	if e.Task == nil {
		return nil, fmt.Errorf("task %s has no description", e.UID)
	}
	fn, ok := r.Get(e.Task.Function)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, e.Task.Function)
	}
	res, err := fn(ctx, e.Task.Clone(), e.Sandbox)
	if res == nil && err == nil {
		res = &Result{}
	}
	return res, err
}

var (
	_ Launcher = (*LocalLauncher)(nil)
	_ Launcher = (*FuncRegistry)(nil)
)
