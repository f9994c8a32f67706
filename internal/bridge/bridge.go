package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Bridge 一个已启动的桥接
type Bridge struct {
	name   string
	kind   Kind
	addr   Address
	router *Router

	mu      sync.Mutex
	stopped bool
}

// Name 桥接名
func (b *Bridge) Name() string { return b.name }

// Kind 桥接类型
func (b *Bridge) Kind() Kind { return b.kind }

// Source 读取端地址
func (b *Bridge) Source() string { return b.addr.Source }

// Sink 写入端地址
func (b *Bridge) Sink() string { return b.addr.Sink }

// Address 地址对
func (b *Bridge) Address() Address { return b.addr }

// Alive 桥接是否仍可用
func (b *Bridge) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.stopped
}

// Stop 停止桥接；内存队列会被删除，Redis Stream 保留给下次会话排查
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}
	b.stopped = true
	if b.kind == KindQueue && b.router.inf.QueueScheme == SchemeMemory {
		return b.router.inf.Queue.Remove(ctx, b.name)
	}
	return nil
}

// StartBridge 启动单个桥接
func StartBridge(ctx context.Context, r *Router, name string) (*Bridge, error) {
	kind, err := KindOf(name)
	if err != nil {
		return nil, err
	}

	var scheme string
	switch kind {
	case KindQueue:
		scheme = r.inf.QueueScheme
		err = r.inf.Queue.Declare(ctx, name)
	case KindPubSub:
		scheme = r.inf.BusScheme
		err = r.inf.EventBus.Declare(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("start bridge %s: %w", name, err)
	}

	b := &Bridge{name: name, kind: kind, addr: NewAddress(scheme, name), router: r}
	log.Printf("[bridge.start] name=%s kind=%s source=%s sink=%s", name, kind, b.addr.Source, b.addr.Sink)
	return b, nil
}

// StartBridges 按名称启动一组桥接，返回名称 → 句柄
//
// 任一失败时已启动的桥接会被停止。
func StartBridges(ctx context.Context, r *Router, names []string) (map[string]*Bridge, error) {
	out := make(map[string]*Bridge, len(names))
	for _, name := range names {
		if _, dup := out[name]; dup {
			continue
		}
		b, err := StartBridge(ctx, r, name)
		if err != nil {
			StopBridges(ctx, out)
			return nil, err
		}
		out[name] = b
	}
	return out, nil
}

// StopBridges 停止全部桥接
func StopBridges(ctx context.Context, bridges map[string]*Bridge) error {
	var errs []error
	for _, b := range bridges {
		if err := b.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop bridge %s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}

// DirectoryOf 从桥接句柄构造地址目录
func DirectoryOf(bridges map[string]*Bridge) Directory {
	d := make(Directory, len(bridges))
	for name, b := range bridges {
		d[name] = b.addr
	}
	return d
}
