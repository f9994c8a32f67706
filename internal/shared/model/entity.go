package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// EntityType - 实体类型
// ============================================================================

// EntityType 实体类型，决定 clone/drop 钩子是否生效
type EntityType string

const (
	EntityTypeTask  EntityType = "task"
	EntityTypePilot EntityType = "pilot"
)

// Valid 是否为已知实体类型
func (t EntityType) Valid() bool {
	return t == EntityTypeTask || t == EntityTypePilot
}

// ============================================================================
// Entity - 流水线中流转的实体
// ============================================================================

// HistoryEntry 状态历史条目
type HistoryEntry struct {
	State     State     `json:"state" bson:"state"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Entity 任务或 Pilot
//
// 任意时刻只有一个组件实例（或一个通道）持有实体；
// StateHistory 只追加，不截断。
type Entity struct {
	UID          string         `json:"uid" bson:"_id"`
	Type         EntityType     `json:"type" bson:"type"`
	State        State          `json:"state" bson:"state"`
	StateHistory []HistoryEntry `json:"state_history" bson:"state_history"`

	// === 描述（提交后不可变，按 Type 二选一）===
	Task  *TaskDescription  `json:"task,omitempty" bson:"task,omitempty"`
	Pilot *PilotDescription `json:"pilot,omitempty" bson:"pilot,omitempty"`

	// === 调度标注（只由调度类组件写入）===
	PilotUID string `json:"pilot_uid,omitempty" bson:"pilot_uid,omitempty"`
	Slots    *Slots `json:"slots,omitempty" bson:"slots,omitempty"`

	// === 执行结果 ===
	ExitCode *int   `json:"exit_code,omitempty" bson:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty" bson:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty" bson:"stderr,omitempty"`
	Sandbox  string `json:"sandbox,omitempty" bson:"sandbox,omitempty"`

	// CloneOf 由 clone 钩子生成时记录原实体 UID
	CloneOf string `json:"clone_of,omitempty" bson:"clone_of,omitempty"`
}

// NewTask 创建处于 NEW 状态的任务
func NewTask(desc TaskDescription) *Entity {
	e := &Entity{
		UID:  "task." + uuid.NewString(),
		Type: EntityTypeTask,
		Task: &desc,
	}
	e.SetState(StateNew, time.Now())
	return e
}

// NewPilot 创建处于 NEW 状态的 Pilot
func NewPilot(desc PilotDescription) *Entity {
	e := &Entity{
		UID:   "pilot." + uuid.NewString(),
		Type:  EntityTypePilot,
		Pilot: &desc,
	}
	e.SetState(StateNew, time.Now())
	return e
}

// IsTask 是否为任务
func (e *Entity) IsTask() bool { return e.Type == EntityTypeTask }

// IsPilot 是否为 Pilot
func (e *Entity) IsPilot() bool { return e.Type == EntityTypePilot }

// IsClone 是否由 clone 钩子生成
func (e *Entity) IsClone() bool { return e.CloneOf != "" }

// SetState 设置状态并追加历史
func (e *Entity) SetState(s State, ts time.Time) {
	e.State = s
	e.StateHistory = append(e.StateHistory, HistoryEntry{State: s, Timestamp: ts})
}

// Transition 校验迁移规则后设置状态
func (e *Entity) Transition(s State, ts time.Time) error {
	if err := CanTransition(e.State, s); err != nil {
		return fmt.Errorf("%s: %w", e.UID, err)
	}
	e.SetState(s, ts)
	return nil
}

// AssignSlots 写入调度结果
func (e *Entity) AssignSlots(pilotUID string, slots *Slots) {
	e.PilotUID = pilotUID
	e.Slots = slots
}

// ClearSlots 清除调度结果，返回被清除的槽位
func (e *Entity) ClearSlots() *Slots {
	s := e.Slots
	e.Slots = nil
	return s
}

// Clone 深拷贝
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	if e.StateHistory != nil {
		c.StateHistory = make([]HistoryEntry, len(e.StateHistory))
		copy(c.StateHistory, e.StateHistory)
	}
	if e.Task != nil {
		t := e.Task.Clone()
		c.Task = &t
	}
	if e.Pilot != nil {
		p := *e.Pilot
		c.Pilot = &p
	}
	if e.Slots != nil {
		c.Slots = e.Slots.Clone()
	}
	if e.ExitCode != nil {
		code := *e.ExitCode
		c.ExitCode = &code
	}
	return &c
}

// Marshal 编码为 JSON
func (e *Entity) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntity 从 JSON 解码
func UnmarshalEntity(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return &e, nil
}

// ============================================================================
// Slots - 调度结果
// ============================================================================

// NodeSlot 单个节点上分配到的核与 GPU
type NodeSlot struct {
	Node  string `json:"node" bson:"node"`
	Cores []int  `json:"cores" bson:"cores"`
	GPUs  []int  `json:"gpus,omitempty" bson:"gpus,omitempty"`
}

// Slots 任务占用的资源
type Slots struct {
	Nodes []NodeSlot `json:"nodes" bson:"nodes"`
}

// Clone 深拷贝
func (s *Slots) Clone() *Slots {
	if s == nil {
		return nil
	}
	c := &Slots{Nodes: make([]NodeSlot, len(s.Nodes))}
	for i, n := range s.Nodes {
		c.Nodes[i] = NodeSlot{
			Node:  n.Node,
			Cores: append([]int(nil), n.Cores...),
			GPUs:  append([]int(nil), n.GPUs...),
		}
	}
	return c
}

// CoreCount 占用的核数
func (s *Slots) CoreCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ns := range s.Nodes {
		n += len(ns.Cores)
	}
	return n
}
