package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	s, err := NewStore(uri, "pilot_runtime_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})
	return s
}

func TestEntity_SaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := model.NewTask(model.TaskDescription{Executable: "/bin/true"})
	require.NoError(t, s.SaveEntities(ctx, []*model.Entity{e}))

	got, err := s.GetEntity(ctx, e.UID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, got.State)
	assert.Equal(t, "/bin/true", got.Task.Executable)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEntity_StaleSnapshotIgnored(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := model.NewTask(model.TaskDescription{Executable: "/bin/true"})
	old := e.Clone()
	require.NoError(t, e.Transition(model.StateScheduled, time.Now()))

	require.NoError(t, s.SaveEntities(ctx, []*model.Entity{e}))
	require.NoError(t, s.SaveEntities(ctx, []*model.Entity{old}), "过期快照不应报错")

	got, err := s.GetEntity(ctx, e.UID)
	require.NoError(t, err)
	assert.Equal(t, model.StateScheduled, got.State, "旧快照不能覆盖新快照")
}

func TestEntity_ListAndCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := model.NewTask(model.TaskDescription{})
	b := model.NewTask(model.TaskDescription{})
	p := model.NewPilot(model.PilotDescription{Resource: "local"})
	require.NoError(t, b.Transition(model.StateDone, time.Now()))
	require.NoError(t, s.SaveEntities(ctx, []*model.Entity{a, b, p}))

	tasks, err := s.ListEntities(ctx, storage.EntityFilter{Type: model.EntityTypeTask})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	done, err := s.ListEntities(ctx, storage.EntityFilter{State: model.StateDone})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, b.UID, done[0].UID)

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StateNew])
	assert.Equal(t, 1, counts[model.StateDone])
}
