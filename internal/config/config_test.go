package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectStoreDriver(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		url    string
		want   string
	}{
		{"YAML sqlite", "sqlite", "", "sqlite"},
		{"YAML Postgres mixed", "Postgres", "", "postgres"},
		{"YAML none", "none", "", "none"},
		{"URL file: prefix", "", "file:/var/lib/test.db?cache=shared", "sqlite"},
		{"URL postgresql:// prefix", "", "postgresql://u:p@localhost:5432/db", "postgres"},
		{"URL mongodb+srv prefix", "", "mongodb+srv://cluster/db", "mongodb"},
		{"YAML overrides URL", "sqlite", "postgres://u:p@localhost:5432/db", "sqlite"},
		{"empty defaults to sqlite", "", "", "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectStoreDriver(tt.driver, tt.url)
			if got != tt.want {
				t.Errorf("detectStoreDriver(%q, %q) = %q, want %q", tt.driver, tt.url, got, tt.want)
			}
		})
	}
}

func TestBuildStoreURL(t *testing.T) {
	pg := buildStoreURL(StoreConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "pilot", SSLMode: "disable"})
	assert.Equal(t, "postgres://u:p@db:5432/pilot?sslmode=disable", pg)

	lite := buildStoreURL(StoreConfig{Driver: "sqlite", Path: "/data/state.db"})
	assert.Equal(t, "file:/data/state.db?cache=shared&mode=rwc", lite)

	mongo := buildStoreURL(StoreConfig{Driver: "mongodb", Host: "m", Port: 27017})
	assert.Equal(t, "mongodb://m:27017", mongo)

	assert.Equal(t, "", buildStoreURL(StoreConfig{Driver: "none"}))
}

func TestBuildRedisURL(t *testing.T) {
	assert.Equal(t, "redis://h:6379/0", buildRedisURL(RedisConfig{Host: "h", Port: 6379}))
	assert.Equal(t, "redis://:pw@h:6379/2", buildRedisURL(RedisConfig{Host: "h", Port: 6379, DB: 2, Password: "pw"}))
	assert.Equal(t, "redis://x", buildRedisURL(RedisConfig{URL: "redis://x", Host: "h"}))
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "postgres://u:***@db:5432/x", maskPassword("postgres://u:secret@db:5432/x"))
	assert.Equal(t, "file:/tmp/x.db", maskPassword("file:/tmp/x.db"))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Runtime.ExitOnError)
	assert.Equal(t, 10*time.Millisecond, cfg.Runtime.PollTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Runtime.IdleBackoff)
	assert.Equal(t, IsolationInProcess, cfg.Runtime.Isolation)
	assert.Equal(t, "warn", cfg.Ownership.OnExpire)
	assert.Equal(t, time.Duration(0), cfg.Ownership.MaxRetention)
	assert.True(t, strings.HasPrefix(cfg.SessionID, "session."))
	assert.NoError(t, cfg.Check())
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
runtime:
  exit_on_error: false
  poll_timeout: 50ms
components:
  agent_executor: 3
shaping:
  clone:
    agent_executor: {input: 2}
  drop:
    agent_stager_output: {input: clones}
ownership:
  on_expire: fail
  max_retention: 1m
`))
	require.NoError(t, err)
	assert.False(t, cfg.Runtime.ExitOnError)
	assert.Equal(t, 50*time.Millisecond, cfg.Runtime.PollTimeout)
	// 未覆盖字段保留默认值
	assert.Equal(t, 100*time.Millisecond, cfg.Runtime.IdleBackoff)
	assert.Equal(t, 3, cfg.Components["agent_executor"])
	assert.Equal(t, 2, cfg.Shaping.Clone["agent_executor"].Input)
	assert.Equal(t, "clones", cfg.Shaping.Drop["agent_stager_output"].Input)
	assert.Equal(t, "fail", cfg.Ownership.OnExpire)
	assert.Equal(t, time.Minute, cfg.Ownership.MaxRetention)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("runtime: [unclosed"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_id: s-1\nstore:\n  driver: none\n"), 0644))
	t.Setenv("REDIS_URL", "redis://r:1/0")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s-1", cfg.SessionID)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "redis://r:1/0", cfg.Transport.Redis.URL)
	assert.Equal(t, path, cfg.LoadedFrom())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.yaml"), []byte("scheduler:\n  cores_per_node: 8\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte("scheduler:\n  nodes: [a, b]\n"), 0644))
	t.Setenv("APP_ENV", "test")
	SetConfigDir(dir)
	defer SetConfigDir("")

	cfg := Load()
	assert.True(t, cfg.IsTest())
	assert.Equal(t, 8, cfg.Scheduler.CoresPerNode)
	assert.Equal(t, []string{"a", "b"}, cfg.Scheduler.Nodes)
	assert.Equal(t, filepath.Join(dir, "test.yaml"), cfg.LoadedFrom())
}

func TestCheck(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Isolation = IsolationProcess
	assert.Error(t, cfg.Check(), "进程隔离不能使用内存传输")

	cfg.Transport.Queue = TransportRedis
	cfg.Transport.PubSub = TransportEtcd
	assert.NoError(t, cfg.Check())

	cfg.Transport.Queue = "kafka"
	assert.Error(t, cfg.Check())
}

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	cfg.Shaping.Clone = map[string]CloneRule{"x": {Input: 2}}

	c := cfg.Clone()
	c.Components["agent_executor"] = 9
	c.Bridges[0] = "changed"
	c.Shaping.Clone["x"] = CloneRule{Input: 5}
	c.Scheduler.Nodes[0] = "other"

	assert.Equal(t, 1, cfg.Components["agent_executor"])
	assert.NotEqual(t, "changed", cfg.Bridges[0])
	assert.Equal(t, 2, cfg.Shaping.Clone["x"].Input)
	assert.Equal(t, "localhost", cfg.Scheduler.Nodes[0])
	assert.Nil(t, (*Config)(nil).Clone())
}

func TestString_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Store.URL = "postgres://u:secret@db:5432/x"
	assert.NotContains(t, cfg.String(), "secret")
}

func TestMetricsChildAddr(t *testing.T) {
	m := MetricsConfig{Enabled: true, Addr: "127.0.0.1:9464", ChildPortBase: 9500}
	assert.Equal(t, "127.0.0.1:9500", m.ChildAddr(0))
	assert.Equal(t, "127.0.0.1:9503", m.ChildAddr(3))

	m.Addr = ":9464"
	assert.Equal(t, ":9501", m.ChildAddr(1))

	m.ChildPortBase = 0
	assert.Equal(t, "", m.ChildAddr(1), "未配置端口起点")
	m.ChildPortBase = 9500
	m.Enabled = false
	assert.Equal(t, "", m.ChildAddr(1), "未启用指标")
}
