package component

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/config"
)

// ChildSpec 拉起子侧所需的全部信息
type ChildSpec struct {
	CType     string           `json:"ctype"`
	Owner     string           `json:"owner"`
	Index     int              `json:"index"`
	Config    *config.Config   `json:"config"`
	Directory bridge.Directory `json:"directory"`
}

// Process 隔离上下文句柄
type Process interface {
	Alive() bool
	Wait() error
	Terminate(ctx context.Context) error
}

// Runner 拉起隔离上下文，阻塞直到子侧就绪或失败
type Runner interface {
	Spawn(ctx context.Context, spec ChildSpec) (Process, error)
}

// 就绪握手
const (
	ChildEnvVar = "PILOT_COMPONENT_CHILD"
	readyLine   = "READY"
	errorPrefix = "ERROR "
)

func readyTimeout(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Runtime.ReadyTimeout > 0 {
		return cfg.Runtime.ReadyTimeout
	}
	return 30 * time.Second
}

// ============================================================================
// InProcessRunner - goroutine 隔离
// ============================================================================

// InProcessRunner 在当前进程的独立 goroutine 中运行子侧
//
// 子侧使用自己的 Stage 实例和配置副本，共享 Env 中的传输。
type InProcessRunner struct {
	Registry *Registry
	Env      Env

	mu       sync.Mutex
	children map[string]*Component
}

// NewInProcessRunner 创建进程内 runner
func NewInProcessRunner(reg *Registry, env Env) *InProcessRunner {
	return &InProcessRunner{Registry: reg, Env: env}
}

// Spawn 启动子侧并等待就绪
func (r *InProcessRunner) Spawn(ctx context.Context, spec ChildSpec) (Process, error) {
	factory, ok := r.Registry.Lookup(spec.CType)
	if !ok {
		return nil, fmt.Errorf("unknown component type %s", spec.CType)
	}
	env := r.Env
	env.Directory = spec.Directory
	child := NewChild(spec, factory(), env)

	cctx, cancel := context.WithCancel(context.Background())
	p := &goroutineProcess{cancel: cancel, done: make(chan struct{})}
	ready := make(chan error, 1)
	go func() {
		defer close(p.done)
		p.err = child.RunChild(cctx, func(err error) { ready <- err })
	}()

	timer := time.NewTimer(readyTimeout(spec.Config))
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			<-p.done
			return nil, err
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrReadyTimeout, child.Name())
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	r.mu.Lock()
	if r.children == nil {
		r.children = make(map[string]*Component)
	}
	r.children[child.Name()] = child
	r.mu.Unlock()
	return p, nil
}

// Child 按子侧实例名取得子侧实例
func (r *InProcessRunner) Child(name string) *Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.children[name]
}

type goroutineProcess struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *goroutineProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *goroutineProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *goroutineProcess) Terminate(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// ProcessRunner - 子进程隔离
// ============================================================================

// ProcessRunner 为每个实例启动一个子进程
//
// ChildSpec 以 JSON 写入子进程 stdin；子进程初始化完成后在 stdout 写一行
// READY，失败时写 ERROR <原因>。子进程日志走 stderr。
type ProcessRunner struct {
	Path   string   // 为空时使用当前可执行文件
	Args   []string // 子进程参数，默认 ["component"]
	Env    []string // 额外环境变量
	Stderr io.Writer
}

// Spawn 启动子进程并等待握手
func (r *ProcessRunner) Spawn(ctx context.Context, spec ChildSpec) (Process, error) {
	path := r.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}
	args := r.Args
	if len(args) == 0 {
		args = []string{"component"}
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode child spec: %w", err)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(append(os.Environ(), ChildEnvVar+"=1"), r.Env...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start child %s: %w", spec.CType, err)
	}

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	ready := make(chan error, 1)
	go p.watch(stdout, ready)

	timer := time.NewTimer(readyTimeout(spec.Config))
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			p.kill()
			return nil, err
		}
	case <-timer.C:
		p.kill()
		return nil, fmt.Errorf("%w: %s pid=%d", ErrReadyTimeout, spec.CType, cmd.Process.Pid)
	case <-ctx.Done():
		p.kill()
		return nil, ctx.Err()
	}
	return p, nil
}

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// watch 读取握手行，其余 stdout 丢弃，读完后回收进程
func (p *osProcess) watch(stdout io.Reader, ready chan<- error) {
	defer close(p.done)
	br := bufio.NewReader(stdout)
	line, err := br.ReadString('\n')
	line = strings.TrimSpace(line)
	switch {
	case line == readyLine:
		ready <- nil
	case strings.HasPrefix(line, errorPrefix):
		ready <- errors.New(strings.TrimPrefix(line, errorPrefix))
	case err != nil:
		ready <- fmt.Errorf("child exited before ready: %w", err)
	default:
		ready <- fmt.Errorf("unexpected handshake %q", line)
	}
	io.Copy(io.Discard, br)
	p.err = p.cmd.Wait()
}

func (p *osProcess) kill() {
	p.cmd.Process.Kill()
	<-p.done
}

func (p *osProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProcess) Wait() error {
	<-p.done
	return p.err
}

// Terminate 先发 SIGTERM，ctx 到期后强杀
func (p *osProcess) Terminate(ctx context.Context) error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.kill()
		return ctx.Err()
	}
}

// ============================================================================
// 子进程入口
// ============================================================================

// EnvBuilder 子进程根据 ChildSpec 构建 Env，返回的 closer 在退出时调用
type EnvBuilder func(ctx context.Context, spec ChildSpec) (Env, func() error, error)

// ServeChild 子进程入口：读取 ChildSpec，运行子侧，握手结果写入 w
func ServeChild(ctx context.Context, r io.Reader, w io.Writer, reg *Registry, build EnvBuilder) error {
	var spec ChildSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		err = fmt.Errorf("decode child spec: %w", err)
		fmt.Fprintf(w, "%s%v\n", errorPrefix, err)
		return err
	}
	factory, ok := reg.Lookup(spec.CType)
	if !ok {
		err := fmt.Errorf("unknown component type %s", spec.CType)
		fmt.Fprintf(w, "%s%v\n", errorPrefix, err)
		return err
	}
	env, closer, err := build(ctx, spec)
	if err != nil {
		fmt.Fprintf(w, "%s%v\n", errorPrefix, err)
		return err
	}
	if closer != nil {
		defer closer()
	}
	if env.Directory == nil {
		env.Directory = spec.Directory
	}

	child := NewChild(spec, factory(), env)
	return child.RunChild(ctx, func(err error) {
		if err != nil {
			fmt.Fprintf(w, "%s%s\n", errorPrefix, strings.ReplaceAll(err.Error(), "\n", " "))
			return
		}
		fmt.Fprintln(w, readyLine)
	})
}
