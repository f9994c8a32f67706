package component

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	f := func() Stage { return BaseStage{} }

	require.NoError(t, r.Register("b", f))
	require.NoError(t, r.Register("a", f))
	assert.Error(t, r.Register("a", f), "重复注册")
	assert.Error(t, r.Register("", f))
	assert.ErrorIs(t, r.Register("c", nil), ErrNilCallback)
	assert.Equal(t, []string{"a", "b"}, r.Types())

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("zzz")
	assert.False(t, ok)
	assert.Panics(t, func() { r.MustRegister("a", f) })
}

// stageSet 记录工厂创建的全部阶段实例
type stageSet struct {
	mu     sync.Mutex
	stages []*pipeStage
}

func (s *stageSet) factory() Stage {
	st := &pipeStage{work: advanceRunning}
	s.mu.Lock()
	s.stages = append(s.stages, st)
	s.mu.Unlock()
	return st
}

func (s *stageSet) finalized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.stages {
		n += int(st.finalized.Load())
	}
	return n
}

func TestStartComponents_InProcess(t *testing.T) {
	h := newHarness(t)
	set := &stageSet{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("test", set.factory))
	runner := NewInProcessRunner(reg, h.env())

	ctx := context.Background()
	comps, err := StartComponents(ctx, map[string]int{"test": 2}, reg, h.cfg, h.env(), runner)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	require.Contains(t, comps, "s.test.0000")
	require.Contains(t, comps, "s.test.0001")

	for _, c := range comps {
		assert.True(t, c.Alive())
		assert.Equal(t, SideParent, c.Side())
	}
	// 每个实例一份配置
	assert.NotSame(t, comps["s.test.0000"].Config(), comps["s.test.0001"].Config())
	require.NotNil(t, runner.Child(ChildName("s.test.0001")))

	for i := 0; i < 4; i++ {
		h.put("qin_queue", rawTask("t", model.StateNew))
	}
	for i := 0; i < 4; i++ {
		require.NotNil(t, h.get("qout_queue", time.Second), "竞争消费的实例共同处理")
	}

	require.NoError(t, StopComponents(ctx, Sorted(comps)))
	for _, c := range comps {
		assert.False(t, c.Alive())
		assert.NoError(t, c.Wait())
	}
	// 工厂为父侧和子侧各创建一个阶段实例，只有子侧运行 FinalizeChild
	assert.Len(t, set.stages, 4)
	assert.Equal(t, 2, set.finalized())
}

type failingStage struct {
	BaseStage
}

func (failingStage) InitializeChild(ctx context.Context, c *Component) error {
	return errors.New("no such device")
}

func TestStartComponents_AssignsInstanceMetricsAddr(t *testing.T) {
	h := newHarness(t)
	h.cfg.Metrics.Enabled = true
	h.cfg.Metrics.Addr = "127.0.0.1:9464"
	h.cfg.Metrics.ChildPortBase = 9600
	set := &stageSet{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("aaa", set.factory))
	require.NoError(t, reg.Register("bbb", set.factory))
	runner := NewInProcessRunner(reg, h.env())

	comps, err := StartComponents(context.Background(), map[string]int{"aaa": 2, "bbb": 1}, reg, h.cfg, h.env(), runner)
	require.NoError(t, err)
	defer StopComponents(context.Background(), Sorted(comps))

	assert.Equal(t, "127.0.0.1:9600", comps["s.aaa.0000"].Config().Metrics.Addr)
	assert.Equal(t, "127.0.0.1:9601", comps["s.aaa.0001"].Config().Metrics.Addr)
	assert.Equal(t, "127.0.0.1:9602", comps["s.bbb.0000"].Config().Metrics.Addr, "端口按实例序号递增，跨类型不重复")
	assert.Equal(t, "127.0.0.1:9464", h.cfg.Metrics.Addr, "不修改调用方配置")
}

func TestStartComponents_StartupFailureStopsStarted(t *testing.T) {
	h := newHarness(t)
	set := &stageSet{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("aaa_ok", set.factory))
	require.NoError(t, reg.Register("zzz_bad", func() Stage { return failingStage{} }))
	runner := NewInProcessRunner(reg, h.env())

	_, err := StartComponents(context.Background(), map[string]int{"aaa_ok": 1, "zzz_bad": 1}, reg, h.cfg, h.env(), runner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")

	child := runner.Child(ChildName("s.aaa_ok.0000"))
	require.NotNil(t, child)
	assert.Equal(t, PhaseStopped, child.Phase(), "已启动的实例被停止")
}

func TestStartComponents_UnknownType(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	_, err := StartComponents(context.Background(), map[string]int{"ghost": 1}, reg, h.cfg, h.env(), NewInProcessRunner(reg, h.env()))
	assert.Error(t, err)
}

// ============================================================================
// 只读 Worker
// ============================================================================

type observer struct {
	BaseWorker
	errs chan error
}

func (o *observer) InitializeChild(ctx context.Context, c *Component) error {
	return c.DeclareInput([]model.State{model.StateNew}, "qin_queue", func(ctx context.Context, e *model.Entity) error {
		o.errs <- c.AdvanceOne(ctx, e, model.StateRunning)
		o.errs <- c.AdvanceOne(ctx, e, "", WithoutPublish())
		return nil
	})
}

func TestWorker_ForbidsStateChange(t *testing.T) {
	h := newHarness(t)
	o := &observer{errs: make(chan error, 2)}
	c, _ := h.start(o)
	assert.True(t, c.ReadOnly())

	e := rawTask("w1", model.StateNew)
	h.put("qin_queue", e)

	assert.ErrorIs(t, <-o.errs, ErrStateChangeForbidden)
	assert.NoError(t, <-o.errs, "不改状态的 advance 允许")
}

// ============================================================================
// 子进程入口与握手
// ============================================================================

func TestServeChild_Handshake(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register("test", func() Stage { return &pipeStage{work: advanceRunning} }))

	spec := ChildSpec{CType: "test", Owner: "s", Index: 3, Config: h.cfg.Clone(), Directory: h.dir}
	data, err := json.Marshal(spec)
	require.NoError(t, err)

	build := func(ctx context.Context, spec ChildSpec) (Env, func() error, error) {
		return Env{Transport: h.router}, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- ServeChild(ctx, bytes.NewReader(data), pw, reg, build) }()

	line, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "READY\n", line)

	h.put("qin_queue", rawTask("c1", model.StateNew))
	require.NotNil(t, h.get("qout_queue", time.Second))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}
}

func TestServeChild_ReportsError(t *testing.T) {
	reg := NewRegistry()
	var out bytes.Buffer
	err := ServeChild(context.Background(), strings.NewReader(`{"ctype":"ghost"}`), &out, reg, nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "ERROR unknown component type ghost"))

	out.Reset()
	err = ServeChild(context.Background(), strings.NewReader(`not json`), &out, reg, nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "ERROR decode child spec"))
}

func TestProcessRunner_Handshake(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	h := newHarness(t)
	spec := ChildSpec{CType: "test", Config: h.cfg.Clone()}
	ctx := context.Background()

	ok := &ProcessRunner{Path: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo READY; exec sleep 30"}}
	p, err := ok.Spawn(ctx, spec)
	require.NoError(t, err)
	assert.True(t, p.Alive())

	tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Terminate(tctx))
	assert.False(t, p.Alive())
	assert.Error(t, p.Wait(), "SIGTERM 退出码非零")

	bad := &ProcessRunner{Path: "/bin/sh", Args: []string{"-c", "cat >/dev/null; echo 'ERROR bad config'; exit 1"}}
	_, err = bad.Spawn(ctx, spec)
	require.Error(t, err)
	assert.Equal(t, "bad config", err.Error())

	silent := &ProcessRunner{Path: "/bin/sh", Args: []string{"-c", "exit 0"}}
	_, err = silent.Spawn(ctx, spec)
	assert.Error(t, err, "未握手即退出")
}
