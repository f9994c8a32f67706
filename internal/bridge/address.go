// Package bridge 命名通道：桥接的创建、地址目录与传输路由
//
// 桥接分两类，由名称后缀决定：
//   - *queue：竞争消费队列，一条消息只交给一个消费者
//   - *pubsub：主题发布/订阅，扇出给每个订阅者
//
// 每个桥接有两个地址：sink（写入端）与 source（读取端）。
// 地址形如 {scheme}://{name}?role={sink|source}，scheme 决定后端（mem/redis/etcd）。
package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 桥接类型
type Kind string

const (
	KindQueue  Kind = "queue"
	KindPubSub Kind = "pubsub"
)

// 地址 scheme
const (
	SchemeMemory = "mem"
	SchemeRedis  = "redis"
	SchemeEtcd   = "etcd"
)

// 地址角色
const (
	RoleSink   = "sink"
	RoleSource = "source"
)

var (
	// ErrUnknownChannel 目录中没有该通道（致命配置错误）
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrUnknownBridgeKind 名称后缀既不是 queue 也不是 pubsub
	ErrUnknownBridgeKind = errors.New("unknown bridge kind")
	// ErrBadAddress 地址格式错误
	ErrBadAddress = errors.New("malformed bridge address")
)

// KindOf 由名称后缀推断桥接类型
func KindOf(name string) (Kind, error) {
	switch {
	case strings.HasSuffix(name, "queue"):
		return KindQueue, nil
	case strings.HasSuffix(name, "pubsub"):
		return KindPubSub, nil
	default:
		return "", fmt.Errorf("%w: %q (name must end in queue or pubsub)", ErrUnknownBridgeKind, name)
	}
}

// Address 桥接的一对地址
type Address struct {
	Source string `json:"source" yaml:"source"`
	Sink   string `json:"sink" yaml:"sink"`
}

// Endpoint 解析后的地址
type Endpoint struct {
	Scheme string
	Name   string
	Role   string
}

func (e Endpoint) String() string {
	return FormatAddress(e.Scheme, e.Name, e.Role)
}

// FormatAddress 构造地址字符串
func FormatAddress(scheme, name, role string) string {
	return fmt.Sprintf("%s://%s?role=%s", scheme, name, role)
}

// NewAddress 按 scheme 为桥接生成 source/sink 地址
func NewAddress(scheme, name string) Address {
	return Address{
		Source: FormatAddress(scheme, name, RoleSource),
		Sink:   FormatAddress(scheme, name, RoleSink),
	}
}

// ParseAddress 解析地址字符串
func ParseAddress(addr string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || scheme == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	name, query, _ := strings.Cut(rest, "?")
	if name == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has no channel name", ErrBadAddress, addr)
	}
	ep := Endpoint{Scheme: scheme, Name: name}
	for _, kv := range strings.Split(query, "&") {
		if k, v, ok := strings.Cut(kv, "="); ok && k == "role" {
			ep.Role = v
		}
	}
	switch ep.Role {
	case RoleSink, RoleSource:
	case "":
		return Endpoint{}, fmt.Errorf("%w: %q has no role", ErrBadAddress, addr)
	default:
		return Endpoint{}, fmt.Errorf("%w: %q has unknown role %q", ErrBadAddress, addr, ep.Role)
	}
	return ep, nil
}
