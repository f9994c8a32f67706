package monitor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/internal/stages/stagetest"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readState 跳过统计消息，返回下一条状态消息的数据
func readState(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == "state" {
			return msg.Data.(map[string]any)
		}
	}
}

func TestHub_StatsThenState(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	done := stagetest.Task(model.StateDone, model.TaskDescription{})
	hub.Record(done)

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	first := readMessage(t, conn)
	assert.Equal(t, "stats", first.Type, "连接后先收到统计")
	assert.EqualValues(t, 1, first.Data.(map[string]any)[string(model.StateDone)])

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	e := stagetest.Task(model.StateExecuting, model.TaskDescription{})
	hub.Record(e)
	got := readState(t, conn)
	assert.Equal(t, e.UID, got["uid"])
	assert.Equal(t, string(model.StateExecuting), got["state"])

	assert.Equal(t, map[model.State]int{model.StateDone: 1, model.StateExecuting: 1}, hub.Stats())
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestWorker_RelaysStateNotifications(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Monitor.Addr = "127.0.0.1:0"
	w := &Worker{}
	h.Start(pipeline.TypeMonitor, w)
	require.NotEmpty(t, w.Addr())

	conn := dial(t, "ws://"+w.Addr()+h.Cfg.Monitor.Path)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return w.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	e := stagetest.Task(model.StateSchedulingPending, model.TaskDescription{})
	ctx := context.Background()
	pub, err := h.Router.OpenPublisher(ctx, h.Dir[pipeline.StatePubSub].Sink)
	require.NoError(t, err)
	n, err := model.NewUpdate(e)
	require.NoError(t, err)
	data, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, model.TopicState, data))

	got := readState(t, conn)
	assert.Equal(t, e.UID, got["uid"])
	assert.Equal(t, string(model.StateSchedulingPending), got["state"])
}
