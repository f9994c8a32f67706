package updater

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/internal/stages/stagetest"
)

func publishState(t *testing.T, h *stagetest.Harness, e *model.Entity) {
	t.Helper()
	ctx := context.Background()
	pub, err := h.Router.OpenPublisher(ctx, h.Dir[pipeline.StatePubSub].Sink)
	require.NoError(t, err)
	n, err := model.NewUpdate(e)
	require.NoError(t, err)
	data, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, model.TopicState, data))
}

func TestWorker_PersistsLatestSnapshot(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Store.FlushInterval = 20 * time.Millisecond
	store := storage.NewMemoryStore()
	h.Start(pipeline.TypeUpdateWorker, &Worker{Store: store})

	e := stagetest.Task(model.StateSchedulingPending, model.TaskDescription{Executable: "/bin/true"})
	publishState(t, h, e)
	e.SetState(model.StateStagingInputPending, time.Now())
	publishState(t, h, e)

	require.Eventually(t, func() bool {
		got, err := store.GetEntity(context.Background(), e.UID)
		return err == nil && got.State == model.StateStagingInputPending
	}, 2*time.Second, 10*time.Millisecond, "应写入最新状态")

	got, err := store.GetEntity(context.Background(), e.UID)
	require.NoError(t, err)
	assert.Len(t, got.StateHistory, len(e.StateHistory))
}

func TestWorker_BatchSizeTriggersFlush(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Store.FlushInterval = time.Hour
	h.Cfg.Store.BatchSize = 3
	store := storage.NewMemoryStore()
	h.Start(pipeline.TypeUpdateWorker, &Worker{Store: store})

	for i := 0; i < 3; i++ {
		publishState(t, h, stagetest.Task(model.StateSchedulingPending, model.TaskDescription{}))
	}

	require.Eventually(t, func() bool {
		counts, err := store.CountByState(context.Background())
		return err == nil && counts[model.StateSchedulingPending] == 3
	}, 2*time.Second, 10*time.Millisecond, "达到批量大小应立即写入")
}

func TestWorker_FlushOnStop(t *testing.T) {
	h := stagetest.New(t)
	h.Cfg.Store.FlushInterval = time.Hour
	store := storage.NewMemoryStore()
	c := h.Start(pipeline.TypeUpdateWorker, &Worker{Store: store})

	e := stagetest.Task(model.StateSchedulingPending, model.TaskDescription{})
	publishState(t, h, e)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	got, err := store.GetEntity(context.Background(), e.UID)
	require.NoError(t, err, "停止时应写入剩余快照")
	assert.Equal(t, model.StateSchedulingPending, got.State)
}

func TestWorker_IsReadOnly(t *testing.T) {
	assert.True(t, (&Worker{}).ReadOnly())
}
