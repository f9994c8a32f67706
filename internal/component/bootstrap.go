package component

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"pilot-runtime/internal/config"
)

// ============================================================================
// 类型注册表
// ============================================================================

// Factory 创建一个阶段实例
type Factory func() Stage

// Registry 组件类型名 → 工厂
type Registry struct {
	mu    sync.RWMutex
	types map[string]Factory
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Factory)}
}

// Register 注册组件类型，重名返回错误
func (r *Registry) Register(ctype string, f Factory) error {
	if ctype == "" {
		return errors.New("empty component type")
	}
	if f == nil {
		return fmt.Errorf("component type %s: %w", ctype, ErrNilCallback)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[ctype]; exists {
		return fmt.Errorf("component type %s already registered", ctype)
	}
	r.types[ctype] = f
	return nil
}

// MustRegister Register 失败时 panic，用于包初始化
func (r *Registry) MustRegister(ctype string, f Factory) {
	if err := r.Register(ctype, f); err != nil {
		panic(err)
	}
}

// Lookup 查找工厂
func (r *Registry) Lookup(ctype string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.types[ctype]
	return f, ok
}

// Types 已注册的类型名（排序）
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ============================================================================
// 批量启动
// ============================================================================

// StartComponents 按类型和数量启动组件，返回实例名 → 父侧实例
//
// 每个实例拿到配置的独立深拷贝和自己的序号；任一启动失败时已启动的实例
// 按相反顺序停止。
func StartComponents(ctx context.Context, counts map[string]int, reg *Registry, cfg *config.Config, env Env, runner Runner) (map[string]*Component, error) {
	ctypes := make([]string, 0, len(counts))
	for ctype := range counts {
		ctypes = append(ctypes, ctype)
	}
	sort.Strings(ctypes)

	out := make(map[string]*Component)
	var started []*Component
	ordinal := 0
	fail := func(err error) (map[string]*Component, error) {
		StopComponents(context.WithoutCancel(ctx), started)
		return nil, err
	}

	for _, ctype := range ctypes {
		factory, ok := reg.Lookup(ctype)
		if !ok {
			return fail(fmt.Errorf("unknown component type %s", ctype))
		}
		for i := 0; i < counts[ctype]; i++ {
			icfg := cfg.Clone()
			icfg.Metrics.Addr = cfg.Metrics.ChildAddr(ordinal)
			ordinal++
			c := New(ctype, i, icfg, factory(), env, runner)
			if err := c.Start(ctx); err != nil {
				return fail(err)
			}
			started = append(started, c)
			out[c.Name()] = c
			log.Printf("[component.start] name=%s type=%s index=%d", c.Name(), ctype, i)
		}
	}
	return out, nil
}

// StopComponents 按相反顺序停止实例
func StopComponents(ctx context.Context, comps []*Component) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sorted 按实例名排序
func Sorted(comps map[string]*Component) []*Component {
	out := make([]*Component, 0, len(comps))
	for _, c := range comps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
