// Package eventbus 事件总线类型定义
package eventbus

import (
	"errors"
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// Message 一条主题消息
type Message struct {
	Channel   string    `json:"channel"`
	Topic     string    `json:"topic"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyPubSubPrefix Redis 频道 / etcd key 前缀
	KeyPubSubPrefix = "pilot:pubsub:"

	// SubscriberBuffer 订阅端缓冲
	SubscriberBuffer = 1000

	// MessageTTL etcd 消息租约（秒）
	MessageTTL = 60
)

var (
	// ErrClosed 总线或订阅端已关闭
	ErrClosed = errors.New("eventbus closed")
)

// ChannelTopic 返回 Redis 频道名 pilot:pubsub:{channel}:{topic}
func ChannelTopic(channel, topic string) string {
	return KeyPubSubPrefix + channel + ":" + topic
}
