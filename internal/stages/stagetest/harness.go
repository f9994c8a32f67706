// Package stagetest 各阶段测试共用的内存流水线夹具
package stagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/component"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/eventbus"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
)

// Harness 内存桥接 + state/command 订阅
type Harness struct {
	T        *testing.T
	Router   *bridge.Router
	Dir      bridge.Directory
	Cfg      *config.Config
	States   eventbus.Subscriber
	Commands eventbus.Subscriber
}

// New 启动参考流水线的全部内存桥接
func New(t *testing.T) *Harness {
	t.Helper()
	ctx := context.Background()
	r := bridge.NewRouter(infra.NewMemoryInfrastructure())
	t.Cleanup(func() { r.Close() })

	bridges, err := bridge.StartBridges(ctx, r, pipeline.Bridges())
	require.NoError(t, err)
	dir := bridge.DirectoryOf(bridges)

	cfg := config.Default()
	cfg.SessionID = "s"
	cfg.Runtime.PollTimeout = 2 * time.Millisecond
	cfg.Runtime.IdleBackoff = 5 * time.Millisecond
	cfg.Runtime.IdleTimeout = 20 * time.Millisecond
	cfg.Runtime.SandboxRoot = t.TempDir()

	h := &Harness{T: t, Router: r, Dir: dir, Cfg: cfg}
	h.States = h.subscribe(pipeline.StatePubSub, model.TopicState)
	h.Commands = h.subscribe(pipeline.CommandPubSub, model.TopicCommand)
	return h
}

func (h *Harness) subscribe(channel, topic string) eventbus.Subscriber {
	ctx := context.Background()
	sub, err := h.Router.OpenSubscriber(ctx, h.Dir[channel].Source)
	require.NoError(h.T, err)
	require.NoError(h.T, sub.Subscribe(ctx, topic))
	return sub
}

// Env 组件运行环境
func (h *Harness) Env() component.Env {
	return component.Env{Transport: h.Router, Directory: h.Dir}
}

// Start 以子侧运行阶段，测试结束时停止
func (h *Harness) Start(ctype string, stage component.Stage) *component.Component {
	h.T.Helper()
	c := component.NewChild(component.ChildSpec{CType: ctype, Owner: "s", Config: h.Cfg.Clone(), Directory: h.Dir}, stage, h.Env())
	ready := make(chan error, 1)
	go c.RunChild(context.Background(), func(err error) { ready <- err })
	require.NoError(h.T, <-ready)
	h.T.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

// Put 放入队列
func (h *Harness) Put(channel string, e *model.Entity) {
	h.T.Helper()
	p, err := h.Router.OpenProducer(context.Background(), h.Dir[channel].Sink)
	require.NoError(h.T, err)
	require.NoError(h.T, p.Put(context.Background(), e))
}

// Get 从队列取出，超时返回 nil
func (h *Harness) Get(channel string, timeout time.Duration) *model.Entity {
	h.T.Helper()
	c, err := h.Router.OpenConsumer(context.Background(), h.Dir[channel].Source, "test")
	require.NoError(h.T, err)
	e, err := c.GetNowait(context.Background(), timeout)
	require.NoError(h.T, err)
	return e
}

// Publish 在 command 通道发布命令
func (h *Harness) Publish(cmd string, arg any) {
	h.T.Helper()
	ctx := context.Background()
	pub, err := h.Router.OpenPublisher(ctx, h.Dir[pipeline.CommandPubSub].Sink)
	require.NoError(h.T, err)
	n, err := model.NewCommand(cmd, arg)
	require.NoError(h.T, err)
	data, err := json.Marshal(n)
	require.NoError(h.T, err)
	require.NoError(h.T, pub.Publish(ctx, model.TopicCommand, data))
}

// NextNotification 读取订阅上的下一条通知，超时返回 nil
func (h *Harness) NextNotification(sub eventbus.Subscriber, timeout time.Duration) *model.Notification {
	h.T.Helper()
	m, err := sub.Receive(context.Background(), timeout)
	require.NoError(h.T, err)
	if m == nil {
		return nil
	}
	var n model.Notification
	require.NoError(h.T, json.Unmarshal(m.Data, &n))
	return &n
}

// WaitState 等待某实体到达指定状态的通知
func (h *Harness) WaitState(uid string, state model.State, timeout time.Duration) *model.Entity {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n := h.NextNotification(h.States, 20*time.Millisecond)
		if n == nil {
			continue
		}
		e, err := n.Entity()
		require.NoError(h.T, err)
		if e.UID == uid && e.State == state {
			return e
		}
	}
	return nil
}

// Task 处于指定状态的任务
func Task(state model.State, desc model.TaskDescription) *model.Entity {
	e := model.NewTask(desc)
	if state != model.StateNew {
		e.SetState(state, time.Now())
	}
	return e
}
