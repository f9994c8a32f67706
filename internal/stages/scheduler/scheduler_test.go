package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/component"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/internal/stages/stagetest"
)

func pending(cores int) *model.Entity {
	return stagetest.Task(model.StateSchedulingPending, model.TaskDescription{Executable: "/bin/true", Cores: cores})
}

// free 在执行通道上读取空闲核数
func free(t *testing.T, c *component.Component, s *Stage) int {
	t.Helper()
	ch := make(chan int, 1)
	require.NoError(t, c.Submit("probe", func(ctx context.Context) error {
		ch <- s.res.Free()
		return nil
	}))
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("probe did not run")
		return -1
	}
}

func TestScheduler_AssignsSlotsAndWaits(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 2, RetryEvery: time.Hour, Strategy: "continuous"}
	s := &Stage{}
	h.Start(pipeline.TypeScheduler, s)

	a, b, w := pending(1), pending(1), pending(1)
	h.Put(pipeline.SchedulingQueue, a)
	h.Put(pipeline.SchedulingQueue, b)
	h.Put(pipeline.SchedulingQueue, w)

	first := h.Get(pipeline.StagingInputQueue, time.Second)
	second := h.Get(pipeline.StagingInputQueue, time.Second)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, model.StateStagingInputPending, first.State)
	assert.Equal(t, "s.pilot.0000", first.PilotUID)
	require.NotNil(t, first.Slots)
	assert.Equal(t, 1, first.Slots.CoreCount())
	assert.NotEqual(t, first.Slots.Nodes[0].Cores, second.Slots.Nodes[0].Cores, "两个任务不能共用核")

	assert.Nil(t, h.Get(pipeline.StagingInputQueue, 100*time.Millisecond), "资源已满，第三个任务应等待")

	// 执行结束后归还槽位
	h.Publish(model.CmdUnschedule, first)
	third := h.Get(pipeline.StagingInputQueue, time.Second)
	require.NotNil(t, third, "归还槽位后等待的任务应被调度")
	assert.Equal(t, w.UID, third.UID)
	assert.Equal(t, first.Slots.Nodes[0].Cores, third.Slots.Nodes[0].Cores)
}

func TestScheduler_UnknownUnscheduleIgnored(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 2, RetryEvery: time.Hour}
	s := &Stage{}
	c := h.Start(pipeline.TypeScheduler, s)

	h.Put(pipeline.SchedulingQueue, pending(2))
	require.NotNil(t, h.Get(pipeline.StagingInputQueue, time.Second))

	stranger := pending(2)
	stranger.AssignSlots("other", &model.Slots{Nodes: []model.NodeSlot{{Node: "n0", Cores: []int{0, 1}}}})
	h.Publish(model.CmdUnschedule, stranger)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, free(t, c, s), "不是本实例分配的槽位不能归还")
}

func TestScheduler_UnschedulableFails(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 2, RetryEvery: time.Hour}
	h.Start(pipeline.TypeScheduler, &Stage{})

	big := pending(16)
	h.Put(pipeline.SchedulingQueue, big)

	failed := h.WaitState(big.UID, model.StateFailed, time.Second)
	require.NotNil(t, failed)
	assert.Contains(t, failed.Stderr, "unschedulable")
	assert.Nil(t, h.Get(pipeline.StagingInputQueue, 50*time.Millisecond), "失败任务不进入下一阶段")
}

func TestScheduler_CancelWaiting(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 1, RetryEvery: time.Hour}
	s := &Stage{}
	c := h.Start(pipeline.TypeScheduler, s)

	h.Put(pipeline.SchedulingQueue, pending(1))
	require.NotNil(t, h.Get(pipeline.StagingInputQueue, time.Second))

	w := pending(1)
	h.Put(pipeline.SchedulingQueue, w)
	time.Sleep(50 * time.Millisecond)
	h.Publish(model.CmdCancel, []string{w.UID})

	require.NotNil(t, h.WaitState(w.UID, model.StateCanceled, time.Second))
	assert.False(t, c.Ownership().Held(w.UID), "取消后移交所有权")
}

func TestScheduler_CloneGetsFreshSlots(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 4, RetryEvery: time.Hour}
	h.Cfg.Shaping.Clone = map[string]config.CloneRule{pipeline.TypeScheduler: {Output: 2}}
	s := &Stage{}
	c := h.Start(pipeline.TypeScheduler, s)

	task := pending(1)
	h.Put(pipeline.SchedulingQueue, task)

	a := h.Get(pipeline.StagingInputQueue, time.Second)
	b := h.Get(pipeline.StagingInputQueue, time.Second)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.ElementsMatch(t, []string{task.UID, task.UID + ".clone_0001"}, []string{a.UID, b.UID})
	assert.NotEqual(t, a.Slots.Nodes[0].Cores, b.Slots.Nodes[0].Cores, "副本应分到新的槽位")
	assert.Equal(t, 2, free(t, c, s))
}

func TestScheduler_DroppedCloneReleasesSlots(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{Nodes: []string{"n0"}, CoresPerNode: 4, RetryEvery: time.Hour}
	h.Cfg.Shaping.Clone = map[string]config.CloneRule{pipeline.TypeScheduler: {Input: 2}}
	h.Cfg.Shaping.Drop = map[string]config.DropRule{pipeline.TypeScheduler: {Output: component.DropClones}}
	s := &Stage{}
	c := h.Start(pipeline.TypeScheduler, s)

	task := pending(1)
	h.Put(pipeline.SchedulingQueue, task)

	got := h.Get(pipeline.StagingInputQueue, time.Second)
	require.NotNil(t, got)
	assert.Equal(t, task.UID, got.UID)
	assert.Nil(t, h.Get(pipeline.StagingInputQueue, 50*time.Millisecond), "副本在出口被吸收")
	assert.Equal(t, 3, free(t, c, s), "被吸收副本的槽位已归还")
}

func TestScheduler_AdoptsPilot(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Scheduler = config.SchedulerConfig{CoresPerNode: 1, RetryEvery: time.Hour}
	s := &Stage{}
	c := h.Start(pipeline.TypeScheduler, s)

	p := model.NewPilot(model.PilotDescription{Resource: "local", Nodes: []string{"n1", "n2"}, Cores: 4})
	p.SetState(model.StateSchedulingPending, time.Now())
	h.Put(pipeline.SchedulingQueue, p)

	task := pending(6)
	h.Put(pipeline.SchedulingQueue, task)
	got := h.Get(pipeline.StagingInputQueue, time.Second)
	require.NotNil(t, got, "Pilot 扩充的节点可以容纳跨节点任务")
	assert.Equal(t, p.UID, got.PilotUID)
	assert.Len(t, got.Slots.Nodes, 2)
	assert.False(t, c.Ownership().Held(p.UID))
}
