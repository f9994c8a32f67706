package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
	"pilot-runtime/internal/shared/storage/dbutil"
	"pilot-runtime/internal/shared/storage/driver/postgres"
	"pilot-runtime/internal/shared/storage/driver/sqlite"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	d := &sqlite.Dialect{}
	require.NoError(t, d.AutoMigrate(db))
	s := NewStore(db, d)
	t.Cleanup(func() { s.Close() })
	return s
}

// newPostgresStore 需要 POSTGRES_TEST_URL，未设置时跳过
func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	db, err := postgres.Open(url)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	d := &postgres.Dialect{}
	require.NoError(t, d.AutoMigrate(db))
	_, err = db.Exec(`DELETE FROM entities`)
	require.NoError(t, err)
	s := NewStore(db, d)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]func(*testing.T) *Store {
	return map[string]func(*testing.T) *Store{
		"sqlite":   newSQLiteStore,
		"postgres": newPostgresStore,
	}
}

func TestSaveEntities_Upsert(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			e := model.NewTask(model.TaskDescription{Executable: "/bin/echo", Arguments: []string{"hi"}})
			require.NoError(t, s.SaveEntities(ctx, []*model.Entity{e}))

			require.NoError(t, e.Transition(model.StateScheduled, time.Now()))
			e.AssignSlots("pilot.1", &model.Slots{Nodes: []model.NodeSlot{{Node: "n0", Cores: []int{0}}}})
			require.NoError(t, s.SaveEntities(ctx, []*model.Entity{e}))

			got, err := s.GetEntity(ctx, e.UID)
			require.NoError(t, err)
			assert.Equal(t, model.StateScheduled, got.State)
			assert.Len(t, got.StateHistory, 2)
			assert.Equal(t, "pilot.1", got.PilotUID)
			assert.Equal(t, []string{"hi"}, got.Task.Arguments)
		})
	}
}

func TestSaveEntities_StaleIgnored(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			e := model.NewTask(model.TaskDescription{})
			old := e.Clone()
			require.NoError(t, e.Transition(model.StateRunning, time.Now()))

			require.NoError(t, s.SaveEntities(ctx, []*model.Entity{e}))
			require.NoError(t, s.SaveEntities(ctx, []*model.Entity{old}))

			got, err := s.GetEntity(ctx, e.UID)
			require.NoError(t, err)
			assert.Equal(t, model.StateRunning, got.State, "乱序到达的旧快照不能覆盖")
		})
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.GetEntity(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListEntities_Filter(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			var batch []*model.Entity
			for i := 0; i < 4; i++ {
				batch = append(batch, model.NewTask(model.TaskDescription{}))
			}
			require.NoError(t, batch[0].Transition(model.StateFailed, time.Now()))
			batch[1].PilotUID = "pilot.x"
			batch = append(batch, model.NewPilot(model.PilotDescription{Resource: "local", Cores: 2}))
			require.NoError(t, s.SaveEntities(ctx, batch))

			all, err := s.ListEntities(ctx, storage.EntityFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 5)
			for i := 1; i < len(all); i++ {
				assert.Less(t, all[i-1].UID, all[i].UID, "结果按 UID 排序")
			}

			tasks, err := s.ListEntities(ctx, storage.EntityFilter{Type: model.EntityTypeTask, State: model.StateNew})
			require.NoError(t, err)
			assert.Len(t, tasks, 3)

			onPilot, err := s.ListEntities(ctx, storage.EntityFilter{PilotUID: "pilot.x"})
			require.NoError(t, err)
			require.Len(t, onPilot, 1)
			assert.Equal(t, batch[1].UID, onPilot[0].UID)

			limited, err := s.ListEntities(ctx, storage.EntityFilter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			counts, err := s.CountByState(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, counts[model.StateNew])
			assert.Equal(t, 1, counts[model.StateFailed])
		})
	}
}

func TestSQLiteDialect_Rebind(t *testing.T) {
	d := &sqlite.Dialect{}
	assert.Equal(t, "SELECT * FROM x WHERE a = ? AND b = ?", d.Rebind("SELECT * FROM x WHERE a = $1 AND b = $2::text"))
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "ON CONFLICT (uid) DO UPDATE SET a = EXCLUDED.a WHERE x <= y",
		d.UpsertConflict("uid", []string{"a = EXCLUDED.a"}, "x <= y"))
}
