package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	etcdstore "pilot-runtime/internal/shared/storage/etcd"
)

// Registrar 实例注册，返回注销函数
type Registrar interface {
	Register(ctx context.Context, name, ctype string) (func(context.Context) error, error)
}

// EtcdRegistry 把桥接目录和实例注册到 etcd
type EtcdRegistry struct {
	store   *etcdstore.Store
	session string
	ttl     int64
}

// NewEtcdRegistry 创建 etcd 注册表
func NewEtcdRegistry(store *etcdstore.Store, session string, ttl int64) *EtcdRegistry {
	if ttl <= 0 {
		ttl = 30
	}
	return &EtcdRegistry{store: store, session: session, ttl: ttl}
}

// PublishDirectory 写入全部桥接地址
func (r *EtcdRegistry) PublishDirectory(ctx context.Context, bridges map[string]*Bridge) error {
	for _, b := range bridges {
		rec := &etcdstore.BridgeRecord{
			Name:   b.Name(),
			Kind:   string(b.Kind()),
			Source: b.Source(),
			Sink:   b.Sink(),
		}
		if err := r.store.PutBridge(ctx, r.session, rec); err != nil {
			return err
		}
	}
	return nil
}

// LoadDirectory 读取会话的桥接目录
func (r *EtcdRegistry) LoadDirectory(ctx context.Context) (Directory, error) {
	recs, err := r.store.ListBridges(ctx, r.session)
	if err != nil {
		return nil, err
	}
	d := make(Directory, len(recs))
	for _, rec := range recs {
		d[rec.Name] = Address{Source: rec.Source, Sink: rec.Sink}
	}
	return d, nil
}

// ClearDirectory 删除会话的桥接目录
func (r *EtcdRegistry) ClearDirectory(ctx context.Context) error {
	return r.store.DeleteBridges(ctx, r.session)
}

// Register 用租约注册实例
func (r *EtcdRegistry) Register(ctx context.Context, name, ctype string) (func(context.Context) error, error) {
	host, _ := os.Hostname()
	lease, err := r.store.RegisterInstance(ctx, r.session, &etcdstore.InstanceRecord{
		Name:      name,
		Type:      ctype,
		Session:   r.session,
		PID:       os.Getpid(),
		Host:      host,
		StartedAt: time.Now(),
	}, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		return r.store.DeregisterInstance(ctx, lease)
	}, nil
}

var _ Registrar = (*EtcdRegistry)(nil)
