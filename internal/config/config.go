package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Load 加载配置
// 1. 加载 .env.{env}（凭据）
// 2. 默认值 → common.yaml → {env}.yaml
// 3. 环境变量覆盖
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	cfg := loadYAMLConfig(env)
	cfg.Env = env
	applyEnvOverrides(cfg)
	cfg.validate()
	return cfg
}

// LoadFile 从指定文件加载（在默认值之上叠加），用于 --config 参数
func LoadFile(path string) (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Env = env
	cfg.loadedFrom = path
	applyEnvOverrides(cfg)
	cfg.validate()
	return cfg, nil
}

// Parse 从 YAML 内容解析（测试与内嵌配置用）
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Env = EnvDevelopment
	cfg.validate()
	return cfg, nil
}

// Default 返回只含默认值的配置
func Default() *Config {
	cfg := defaults()
	cfg.Env = EnvDevelopment
	cfg.validate()
	return cfg
}

// defaults 硬编码默认值
func defaults() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			ExitOnError:    true,
			PollTimeout:    10 * time.Millisecond,
			IdleBackoff:    100 * time.Millisecond,
			IdleTimeout:    100 * time.Millisecond,
			ReadyTimeout:   30 * time.Second,
			StopTimeout:    10 * time.Second,
			Isolation:      IsolationInProcess,
			StateChannel:   "agent_state_pubsub",
			CommandChannel: "agent_command_pubsub",
			SandboxRoot:    filepath.Join(os.TempDir(), "pilot-runtime"),
		},
		Transport: TransportConfig{
			Queue:  TransportMemory,
			PubSub: TransportMemory,
			Redis:  RedisConfig{Host: "localhost", Port: 6379, Group: "pilot", MaxLen: 100000},
			Etcd: EtcdConfig{
				Endpoints:   []string{"localhost:2379"},
				Prefix:      "/pilot",
				DialTimeout: 5 * time.Second,
				LeaseTTL:    30,
			},
		},
		Bridges: []string{
			"agent_scheduling_queue",
			"agent_staging_input_queue",
			"agent_executing_queue",
			"agent_staging_output_queue",
			"agent_state_pubsub",
			"agent_command_pubsub",
		},
		Components: map[string]int{
			"agent_stager_input":  1,
			"agent_scheduler":     1,
			"agent_executor":      1,
			"agent_stager_output": 1,
			"agent_update_worker": 1,
		},
		Ownership: OwnershipConfig{
			WarnAfter:    10 * time.Minute,
			OnExpire:     "warn",
			ReapInterval: time.Second,
		},
		Metrics:  MetricsConfig{Addr: ":9464", Namespace: "pilot"},
		Tracing:  TracingConfig{Exporter: "stdout"},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Store:    StoreConfig{Driver: "sqlite", Host: "localhost", Port: 5432, Name: "pilot", SSLMode: "disable", FlushInterval: time.Second, BatchSize: 100},
		Staging:  StagingConfig{Endpoint: "localhost:9000", Bucket: "pilot-staging"},
		Executor: ExecutorConfig{Launcher: "local", Image: "busybox:latest"},
		Scheduler: SchedulerConfig{
			Nodes:        []string{"localhost"},
			CoresPerNode: 4,
			RetryEvery:   time.Second,
			Strategy:     "continuous",
		},
		Monitor: MonitorConfig{Addr: ":8089", Path: "/ws/state"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *Config {
	cfg := defaults()
	paths := effectiveConfigPaths()

	for _, base := range paths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "[config] parse %s failed: %v\n", path, err)
			}
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range paths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "[config] parse %s failed: %v\n", path, err)
			}
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}

// applyEnvOverrides 环境变量覆盖 YAML
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PILOT_SESSION"); v != "" {
		cfg.SessionID = v
	}
	if v := os.Getenv("PILOT_ISOLATION"); v != "" {
		cfg.Runtime.Isolation = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Transport.Redis.URL = v
	}
	cfg.Transport.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		cfg.Transport.Etcd.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := firstEnv("STORE_DSN", "DATABASE_URL"); v != "" {
		cfg.Store.URL = v
	}
	cfg.Store.Password = os.Getenv("STORE_PASSWORD")
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Staging.Endpoint = v
	}
	cfg.Staging.AccessKey = firstEnv("MINIO_ACCESS_KEY", "MINIO_ROOT_USER")
	cfg.Staging.SecretKey = firstEnv("MINIO_SECRET_KEY", "MINIO_ROOT_PASSWORD")
}

// validate 验证并填充默认值
func (c *Config) validate() {
	if c.SessionID == "" {
		c.SessionID = "session." + uuid.NewString()[:8]
	}
	r := &c.Runtime
	if r.PollTimeout <= 0 {
		r.PollTimeout = 10 * time.Millisecond
	}
	if r.IdleBackoff <= 0 {
		r.IdleBackoff = 100 * time.Millisecond
	}
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = 100 * time.Millisecond
	}
	if r.ReadyTimeout <= 0 {
		r.ReadyTimeout = 30 * time.Second
	}
	if r.StopTimeout <= 0 {
		r.StopTimeout = 10 * time.Second
	}
	if r.Isolation != IsolationProcess {
		r.Isolation = IsolationInProcess
	}
	if c.Transport.Queue == "" {
		c.Transport.Queue = TransportMemory
	}
	if c.Transport.PubSub == "" {
		c.Transport.PubSub = TransportMemory
	}
	if c.Transport.Redis.URL == "" {
		c.Transport.Redis.URL = buildRedisURL(c.Transport.Redis)
	}
	if c.Transport.Redis.Group == "" {
		c.Transport.Redis.Group = "pilot"
	}
	if c.Transport.Etcd.DialTimeout <= 0 {
		c.Transport.Etcd.DialTimeout = 5 * time.Second
	}
	if c.Transport.Etcd.LeaseTTL <= 0 {
		c.Transport.Etcd.LeaseTTL = 30
	}
	if c.Ownership.OnExpire != "fail" {
		c.Ownership.OnExpire = "warn"
	}
	if c.Ownership.ReapInterval <= 0 {
		c.Ownership.ReapInterval = time.Second
	}
	c.Store.Driver = detectStoreDriver(c.Store.Driver, c.Store.URL)
	if c.Store.URL == "" {
		c.Store.URL = buildStoreURL(c.Store)
	}
	if c.Store.FlushInterval <= 0 {
		c.Store.FlushInterval = time.Second
	}
	if c.Store.BatchSize <= 0 {
		c.Store.BatchSize = 100
	}
	if c.Executor.Launcher == "" {
		c.Executor.Launcher = "local"
	}
	if c.Scheduler.CoresPerNode <= 0 {
		c.Scheduler.CoresPerNode = 1
	}
	if len(c.Scheduler.Nodes) == 0 {
		c.Scheduler.Nodes = []string{"localhost"}
	}
	if c.Scheduler.RetryEvery <= 0 {
		c.Scheduler.RetryEvery = time.Second
	}
	if c.Monitor.Path == "" {
		c.Monitor.Path = "/ws/state"
	}
}

// Check 语义校验，返回第一个不可运行的组合
func (c *Config) Check() error {
	if c.Runtime.Isolation == IsolationProcess {
		if c.Transport.Queue == TransportMemory || c.Transport.PubSub == TransportMemory {
			return fmt.Errorf("isolation %q requires a shared transport, got queue=%s pubsub=%s",
				c.Runtime.Isolation, c.Transport.Queue, c.Transport.PubSub)
		}
	}
	switch c.Transport.Queue {
	case TransportMemory, TransportRedis:
	default:
		return fmt.Errorf("unsupported queue transport %q", c.Transport.Queue)
	}
	switch c.Transport.PubSub {
	case TransportMemory, TransportRedis, TransportEtcd:
	default:
		return fmt.Errorf("unsupported pubsub transport %q", c.Transport.PubSub)
	}
	for name, n := range c.Components {
		if n < 0 {
			return fmt.Errorf("component %s: negative count %d", name, n)
		}
	}
	return nil
}

// Clone 深拷贝，每个组件实例各持一份
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Bridges = append([]string(nil), c.Bridges...)
	out.Transport.Etcd.Endpoints = append([]string(nil), c.Transport.Etcd.Endpoints...)
	out.Scheduler.Nodes = append([]string(nil), c.Scheduler.Nodes...)
	if c.Components != nil {
		out.Components = make(map[string]int, len(c.Components))
		for k, v := range c.Components {
			out.Components[k] = v
		}
	}
	if c.Shaping.Clone != nil {
		out.Shaping.Clone = make(map[string]CloneRule, len(c.Shaping.Clone))
		for k, v := range c.Shaping.Clone {
			out.Shaping.Clone[k] = v
		}
	}
	if c.Shaping.Drop != nil {
		out.Shaping.Drop = make(map[string]DropRule, len(c.Shaping.Drop))
		for k, v := range c.Shaping.Drop {
			out.Shaping.Drop[k] = v
		}
	}
	return &out
}

// LoadedFrom 返回实际加载的配置文件路径
func (c *Config) LoadedFrom() string {
	return c.loadedFrom
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Session: %s, Isolation: %s, Queue: %s, PubSub: %s, Store: %s %s}",
		c.Env, c.SessionID, c.Runtime.Isolation, c.Transport.Queue, c.Transport.PubSub,
		c.Store.Driver, maskPassword(c.Store.URL))
}
