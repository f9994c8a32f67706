// Package eventbus 主题发布/订阅抽象
//
// 同一通道内按主题扇出：每个订阅了该主题的订阅者都收到一份。
// 实现有内存、Redis Pub/Sub 和 etcd watch 三种，投递均为尽力而为。
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// Publisher 发布端
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Close() error
}

// Subscriber 订阅端
type Subscriber interface {
	// Subscribe 增加订阅主题，之后发布的消息才会收到
	Subscribe(ctx context.Context, topic string) error
	// Receive 最多等待 timeout 取一条消息；无消息时返回 (nil, nil)
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	Close() error
}

// Backend 按通道名打开发布/订阅端
type Backend interface {
	Declare(ctx context.Context, channel string) error
	NewPublisher(ctx context.Context, channel string) (Publisher, error)
	NewSubscriber(ctx context.Context, channel string) (Subscriber, error)
	Close() error
}
