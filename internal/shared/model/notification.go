package model

import (
	"encoding/json"
	"fmt"
)

// 通知主题与命令
const (
	TopicState   = "state"
	TopicCommand = "command"

	CmdUpdate     = "update"
	CmdUnschedule = "unschedule"
	CmdCancel     = "cancel"
)

// Notification 发布/订阅消息信封
//
// state 主题上 Cmd 固定为 "update"，Arg 为实体；
// command 主题上 Cmd 为命令名，Arg 为任意 JSON。
type Notification struct {
	Cmd string          `json:"cmd"`
	Arg json.RawMessage `json:"arg,omitempty"`
}

// NewUpdate 构造状态更新通知
func NewUpdate(e *Entity) (*Notification, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode update %s: %w", e.UID, err)
	}
	return &Notification{Cmd: CmdUpdate, Arg: data}, nil
}

// NewCommand 构造命令通知
func NewCommand(cmd string, arg any) (*Notification, error) {
	n := &Notification{Cmd: cmd}
	if arg != nil {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode command %s: %w", cmd, err)
		}
		n.Arg = data
	}
	return n, nil
}

// Entity 解码 update 通知中的实体
func (n *Notification) Entity() (*Entity, error) {
	if n.Cmd != CmdUpdate {
		return nil, fmt.Errorf("notification %q carries no entity", n.Cmd)
	}
	return UnmarshalEntity(n.Arg)
}

// Decode 将 Arg 解码到 v
func (n *Notification) Decode(v any) error {
	if len(n.Arg) == 0 {
		return nil
	}
	return json.Unmarshal(n.Arg, v)
}
