// Package infra 基础设施聚合层
//
// 按传输配置初始化桥接后端，并统一关闭：
//   - Queue：竞争消费队列（内存 / Redis Streams）
//   - EventBus：发布订阅（内存 / Redis Pub/Sub / etcd watch）
//   - Etcd：目录与实例注册（可选）
//
// store.go 按 Store 配置打开实体状态存储。
package infra

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/eventbus"
	etcdbus "pilot-runtime/internal/shared/eventbus/etcd"
	eventbusredis "pilot-runtime/internal/shared/eventbus/redis"
	"pilot-runtime/internal/shared/queue"
	queueredis "pilot-runtime/internal/shared/queue/redis"
	etcdstore "pilot-runtime/internal/shared/storage/etcd"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Queue 队列后端，QueueScheme 为其地址 scheme
	Queue       queue.Backend
	QueueScheme string

	// EventBus 发布订阅后端，BusScheme 为其地址 scheme
	EventBus  eventbus.Backend
	BusScheme string

	// Etcd 目录与实例注册，未配置时为 nil
	Etcd *etcdstore.Store

	redis *redis.Client
}

// New 按传输配置创建基础设施
func New(ctx context.Context, cfg config.TransportConfig) (*Infrastructure, error) {
	inf := &Infrastructure{}

	needRedis := cfg.Queue == config.TransportRedis || cfg.PubSub == config.TransportRedis
	needEtcd := cfg.PubSub == config.TransportEtcd || cfg.Etcd.Register

	if needRedis {
		client, err := NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		inf.redis = client
	}
	if needEtcd {
		store, err := etcdstore.NewStore(etcdstore.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
		if err != nil {
			inf.Close()
			return nil, err
		}
		inf.Etcd = store
	}

	switch cfg.Queue {
	case config.TransportRedis:
		inf.Queue = queueredis.NewStoreFromClient(inf.redis, queueredis.Options{Group: cfg.Redis.Group, MaxLen: cfg.Redis.MaxLen})
		inf.QueueScheme = "redis"
	case config.TransportMemory, "":
		inf.Queue = queue.NewMemoryBackend()
		inf.QueueScheme = "mem"
	default:
		inf.Close()
		return nil, fmt.Errorf("unsupported queue transport %q", cfg.Queue)
	}

	switch cfg.PubSub {
	case config.TransportRedis:
		inf.EventBus = eventbusredis.NewStoreFromClient(inf.redis)
		inf.BusScheme = "redis"
	case config.TransportEtcd:
		inf.EventBus = etcdbus.NewBus(inf.Etcd.Client(), inf.Etcd.Prefix(), cfg.Etcd.LeaseTTL)
		inf.BusScheme = "etcd"
	case config.TransportMemory, "":
		inf.EventBus = eventbus.NewMemoryBackend()
		inf.BusScheme = "mem"
	default:
		inf.Close()
		return nil, fmt.Errorf("unsupported pubsub transport %q", cfg.PubSub)
	}

	log.Printf("[infra] Transport ready: queue=%s pubsub=%s etcd=%v", inf.QueueScheme, inf.BusScheme, inf.Etcd != nil)
	return inf, nil
}

// NewMemoryInfrastructure 纯内存基础设施（单进程运行和测试）
func NewMemoryInfrastructure() *Infrastructure {
	return &Infrastructure{
		Queue:       queue.NewMemoryBackend(),
		QueueScheme: "mem",
		EventBus:    eventbus.NewMemoryBackend(),
		BusScheme:   "mem",
	}
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Queue:       queue.NewNoOpBackend(),
		QueueScheme: "mem",
		EventBus:    eventbus.NewNoOpBackend(),
		BusScheme:   "mem",
	}
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var errs []error

	if i.Queue != nil {
		errs = append(errs, i.Queue.Close())
	}
	if i.EventBus != nil {
		errs = append(errs, i.EventBus.Close())
	}
	if i.redis != nil {
		errs = append(errs, i.redis.Close())
	}
	if i.Etcd != nil {
		errs = append(errs, i.Etcd.Close())
	}
	return errors.Join(errs...)
}
