// Package model 定义运行时的核心数据模型
//
// state.go 包含实体状态机定义：
//   - State：全局状态枚举（有序，只能前进）
//   - CanTransition：状态迁移规则
package model

import (
	"errors"
	"fmt"
)

// ============================================================================
// State - 实体状态
// ============================================================================

// State 实体在流水线中的位置
//
// 类型为字符串，枚举之外的值同样可以表示，以便识别并拒绝不符合约定的实体。
type State string

const (
	StateNew                  State = "NEW"
	StateAcquired             State = "ACQUIRED"
	StateSchedulingPending    State = "SCHEDULING_PENDING"
	StateScheduled            State = "SCHEDULED"
	StateStagingInputPending  State = "STAGING_INPUT_PENDING"
	StateStaged               State = "STAGED"
	StateLaunchingPending     State = "LAUNCHING_PENDING"
	StateLaunched             State = "LAUNCHED"
	StateExecutingPending     State = "EXECUTING_PENDING"
	StateExecuting            State = "EXECUTING"
	StateRunning              State = "RUNNING"
	StateStagingOutputPending State = "STAGING_OUTPUT_PENDING"
	StateCollected            State = "COLLECTED"

	// 终态
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
	StateCanceled State = "CANCELED"
)

// finalRank 所有终态共享的序号
const finalRank = 13

var stateRanks = map[State]int{
	StateNew:                  0,
	StateAcquired:             1,
	StateSchedulingPending:    2,
	StateScheduled:            3,
	StateStagingInputPending:  4,
	StateStaged:               5,
	StateLaunchingPending:     6,
	StateLaunched:             7,
	StateExecutingPending:     8,
	StateExecuting:            9,
	StateRunning:              10,
	StateStagingOutputPending: 11,
	StateCollected:            12,
	StateDone:                 finalRank,
	StateFailed:               finalRank,
	StateCanceled:             finalRank,
}

// ErrInvalidTransition 非法的状态迁移
var ErrInvalidTransition = errors.New("invalid state transition")

// Rank 返回状态序号，未知状态返回 -1
func (s State) Rank() int {
	if r, ok := stateRanks[s]; ok {
		return r
	}
	return -1
}

// Known 是否为枚举内的状态
func (s State) Known() bool {
	_, ok := stateRanks[s]
	return ok
}

// IsFinal 是否为终态
func (s State) IsFinal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}

// IsFailure 是否为失败类终态
func (s State) IsFailure() bool {
	return s == StateFailed || s == StateCanceled
}

func (s State) String() string {
	return string(s)
}

// States 按序号返回全部已知状态
func States() []State {
	return []State{
		StateNew, StateAcquired, StateSchedulingPending, StateScheduled,
		StateStagingInputPending, StateStaged, StateLaunchingPending, StateLaunched,
		StateExecutingPending, StateExecuting, StateRunning, StateStagingOutputPending,
		StateCollected, StateDone, StateFailed, StateCanceled,
	}
}

// CanTransition 检查 from -> to 是否合法
//
// 规则：
//   - FAILED / CANCELED 可以从任意状态（含终态与未知状态）进入
//   - 终态不可离开到其他非失败状态
//   - 两个已知状态之间只能前进或原地（重复通知同一状态）
//   - 涉及未知状态的迁移不做序号检查
func CanTransition(from, to State) error {
	if to.IsFailure() {
		return nil
	}
	if from.IsFinal() {
		return fmt.Errorf("%w: %s is final, cannot move to %s", ErrInvalidTransition, from, to)
	}
	if !from.Known() || !to.Known() {
		return nil
	}
	if to.Rank() < from.Rank() {
		return fmt.Errorf("%w: %s -> %s moves backwards", ErrInvalidTransition, from, to)
	}
	return nil
}
