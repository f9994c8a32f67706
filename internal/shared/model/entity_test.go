package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 状态机
// ============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr bool
	}{
		{"前进", StateNew, StateSchedulingPending, false},
		{"原地", StateExecuting, StateExecuting, false},
		{"后退", StateExecuting, StateScheduled, true},
		{"任意非终态可失败", StateNew, StateFailed, false},
		{"任意非终态可取消", StateRunning, StateCanceled, false},
		{"终态可进入失败", StateDone, StateFailed, false},
		{"终态可进入取消", StateDone, StateCanceled, false},
		{"失败可重复", StateFailed, StateFailed, false},
		{"终态不可离开", StateDone, StateExecuting, true},
		{"终态不可重复", StateDone, StateDone, true},
		{"失败后不可恢复", StateFailed, StateRunning, true},
		{"未知状态可失败", State("BOGUS"), StateFailed, false},
		{"未知状态不做序号检查", State("BOGUS"), StateNew, false},
		{"进入未知状态", StateRunning, State("CUSTOM"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestState_Rank(t *testing.T) {
	states := States()
	for i := 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, states[i].Rank(), states[i-1].Rank(), states[i])
	}
	assert.Equal(t, -1, State("nope").Rank())
	assert.True(t, StateDone.IsFinal())
	assert.False(t, StateCollected.IsFinal())
	assert.True(t, StateCanceled.IsFailure())
}

// ============================================================================
// Entity
// ============================================================================

func TestNewTask(t *testing.T) {
	e := NewTask(TaskDescription{Executable: "/bin/true"})
	assert.True(t, strings.HasPrefix(e.UID, "task."))
	assert.True(t, e.IsTask())
	assert.Equal(t, StateNew, e.State)
	require.Len(t, e.StateHistory, 1)
	assert.Equal(t, StateNew, e.StateHistory[0].State)

	p := NewPilot(PilotDescription{Resource: "local", Cores: 4})
	assert.True(t, p.IsPilot())
	assert.NotEqual(t, e.UID, p.UID)
}

func TestEntity_Transition(t *testing.T) {
	e := NewTask(TaskDescription{})
	now := time.Now()
	require.NoError(t, e.Transition(StateSchedulingPending, now))
	require.NoError(t, e.Transition(StateExecuting, now))
	assert.ErrorIs(t, e.Transition(StateNew, now), ErrInvalidTransition)

	// 失败的迁移不写历史
	assert.Len(t, e.StateHistory, 3)
	assert.Equal(t, StateExecuting, e.State)

	require.NoError(t, e.Transition(StateDone, now))
	assert.ErrorIs(t, e.Transition(StateExecuting, now), ErrInvalidTransition)
	require.NoError(t, e.Transition(StateFailed, now), "终态仍可进入 FAILED")
	assert.Equal(t, StateFailed, e.State)
	assert.Len(t, e.StateHistory, 5)
}

func TestEntity_CloneIsDeep(t *testing.T) {
	code := 0
	e := NewTask(TaskDescription{
		Arguments:   []string{"a"},
		Environment: map[string]string{"K": "V"},
	})
	e.AssignSlots("pilot.1", &Slots{Nodes: []NodeSlot{{Node: "n0", Cores: []int{0, 1}}}})
	e.ExitCode = &code

	c := e.Clone()
	c.Task.Arguments[0] = "b"
	c.Task.Environment["K"] = "X"
	c.Slots.Nodes[0].Cores[0] = 9
	c.SetState(StateFailed, time.Now())
	*c.ExitCode = 1

	assert.Equal(t, "a", e.Task.Arguments[0])
	assert.Equal(t, "V", e.Task.Environment["K"])
	assert.Equal(t, 0, e.Slots.Nodes[0].Cores[0])
	assert.Len(t, e.StateHistory, 1)
	assert.Equal(t, 0, *e.ExitCode)
	assert.Nil(t, (*Entity)(nil).Clone())
}

func TestEntity_Slots(t *testing.T) {
	e := NewTask(TaskDescription{Cores: 2})
	s := &Slots{Nodes: []NodeSlot{{Node: "n0", Cores: []int{0, 1}}, {Node: "n1", Cores: []int{3}}}}
	e.AssignSlots("pilot.x", s)
	assert.Equal(t, 3, e.Slots.CoreCount())
	assert.Same(t, s, e.ClearSlots())
	assert.Nil(t, e.Slots)
	assert.Equal(t, 0, e.Slots.CoreCount())
	assert.Equal(t, 1, (&TaskDescription{}).CoresOrDefault())
}

// ============================================================================
// Notification
// ============================================================================

func TestNotification_Update(t *testing.T) {
	e := NewTask(TaskDescription{Name: "t1"})
	n, err := NewUpdate(e)
	require.NoError(t, err)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cmd":"update"`)

	var back Notification
	require.NoError(t, json.Unmarshal(data, &back))
	got, err := back.Entity()
	require.NoError(t, err)
	assert.Equal(t, e.UID, got.UID)
	assert.Equal(t, "t1", got.Task.Name)
}

func TestNotification_Command(t *testing.T) {
	n, err := NewCommand(CmdUnschedule, map[string]string{"uid": "task.1"})
	require.NoError(t, err)

	_, err = n.Entity()
	assert.Error(t, err)

	var arg map[string]string
	require.NoError(t, n.Decode(&arg))
	assert.Equal(t, "task.1", arg["uid"])

	empty, err := NewCommand(CmdCancel, nil)
	require.NoError(t, err)
	assert.NoError(t, empty.Decode(&arg))
}
