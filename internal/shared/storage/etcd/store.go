// Package etcd etcd 存储实现
//
// 保存桥接地址目录和组件实例注册信息。实例注册挂在租约上，进程退出后自动过期。
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Store etcd 存储客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// BridgeRecord 桥接地址记录
type BridgeRecord struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Sink   string `json:"sink"`
}

// InstanceRecord 组件实例注册记录
type InstanceRecord struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Session   string    `json:"session"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
}

// NewStore 创建 etcd 存储客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/pilot"
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &Store{
		client: client,
		prefix: strings.TrimRight(cfg.Prefix, "/"),
	}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 etcd 客户端
func (s *Store) Client() *clientv3.Client {
	return s.client
}

// Prefix 返回 key 前缀
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) bridgeKey(session, name string) string {
	return fmt.Sprintf("%s/sessions/%s/bridges/%s", s.prefix, session, name)
}

func (s *Store) instanceKey(session, name string) string {
	return fmt.Sprintf("%s/sessions/%s/instances/%s", s.prefix, session, name)
}

// ============================================================================
// 桥接目录
// ============================================================================

// PutBridge 写入桥接地址
func (s *Store) PutBridge(ctx context.Context, session string, rec *BridgeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge: %w", err)
	}
	if _, err := s.client.Put(ctx, s.bridgeKey(session, rec.Name), string(data)); err != nil {
		return fmt.Errorf("failed to put bridge %s: %w", rec.Name, err)
	}
	log.Printf("[etcd] Registered bridge: session=%s name=%s kind=%s", session, rec.Name, rec.Kind)
	return nil
}

// ListBridges 读取会话下全部桥接地址
func (s *Store) ListBridges(ctx context.Context, session string) ([]*BridgeRecord, error) {
	prefix := fmt.Sprintf("%s/sessions/%s/bridges/", s.prefix, session)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list bridges: %w", err)
	}
	out := make([]*BridgeRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec BridgeRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// DeleteBridges 删除会话下全部桥接地址
func (s *Store) DeleteBridges(ctx context.Context, session string) error {
	prefix := fmt.Sprintf("%s/sessions/%s/bridges/", s.prefix, session)
	_, err := s.client.Delete(ctx, prefix, clientv3.WithPrefix())
	return err
}

// ============================================================================
// 实例注册
// ============================================================================

// RegisterInstance 用租约注册实例，返回租约 ID 用于注销
func (s *Store) RegisterInstance(ctx context.Context, session string, rec *InstanceRecord, ttl int64) (clientv3.LeaseID, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal instance: %w", err)
	}
	lease, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to create lease: %w", err)
	}
	if _, err := s.client.Put(ctx, s.instanceKey(session, rec.Name), string(data), clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("failed to put instance %s: %w", rec.Name, err)
	}
	// 续约直到租约被撤销或连接关闭
	ka, err := s.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return lease.ID, fmt.Errorf("failed to keep lease alive: %w", err)
	}
	go func() {
		for range ka {
		}
	}()
	log.Printf("[etcd] Registered instance: session=%s name=%s lease=%x", session, rec.Name, lease.ID)
	return lease.ID, nil
}

// DeregisterInstance 撤销租约，注册信息随之删除
func (s *Store) DeregisterInstance(ctx context.Context, lease clientv3.LeaseID) error {
	if _, err := s.client.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

// ListInstances 列出会话下存活的实例
func (s *Store) ListInstances(ctx context.Context, session string) ([]*InstanceRecord, error) {
	prefix := fmt.Sprintf("%s/sessions/%s/instances/", s.prefix, session)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	out := make([]*InstanceRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec InstanceRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
