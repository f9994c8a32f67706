// Package queue 消息队列类型定义
package queue

import "errors"

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyQueuePrefix Redis Stream key 前缀，完整 key 为 pilot:queue:{name}
	KeyQueuePrefix = "pilot:queue:"

	// DefaultConsumerGroup 默认消费组
	DefaultConsumerGroup = "pilot"

	// MaxStreamLength Stream 近似长度上限
	MaxStreamLength = 100000

	// 消息字段
	FieldUID    = "uid"
	FieldEntity = "entity"
)

var (
	// ErrClosed 队列已关闭
	ErrClosed = errors.New("queue closed")
	// ErrUnknownQueue 队列未声明
	ErrUnknownQueue = errors.New("unknown queue")
)

// StreamKey 返回队列对应的 Redis Stream key
func StreamKey(name string) string {
	return KeyQueuePrefix + name
}
