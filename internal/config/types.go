// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell 注入）
//  2. YAML 配置文件（common.yaml，再叠加 {env}.yaml）
//  3. 代码硬编码默认值
//
// 配置路径确定策略：
//  1. --config 命令行参数（SetConfigDir 或 LoadFile）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/pilot-runtime/
//     - dev/test → ./configs/
//
// 每个组件实例拿到的是配置的深拷贝（Config.Clone），实例之间互不影响。
package config

import (
	"net"
	"strconv"
	"time"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// Isolation 组件实例的隔离方式
const (
	IsolationProcess   = "process"   // 每个实例一个子进程
	IsolationInProcess = "inprocess" // 每个实例一个 goroutine 上下文
)

// 传输后端
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportEtcd   = "etcd"
)

// Config 运行时配置
type Config struct {
	Env       Environment `yaml:"-"`
	SessionID string      `yaml:"session_id"`

	Runtime    RuntimeConfig   `yaml:"runtime"`    // 组件运行循环
	Transport  TransportConfig `yaml:"transport"`  // 桥接后端
	Bridges    []string        `yaml:"bridges"`    // 需要启动的桥接名（后缀决定类型）
	Components map[string]int  `yaml:"components"` // 组件类型 → 实例数
	Ownership  OwnershipConfig `yaml:"ownership"`  // 延迟移交的保留策略
	Shaping    ShapingConfig   `yaml:"shaping"`    // 按组件类型配置的 clone/drop
	Metrics    MetricsConfig   `yaml:"metrics"`
	Tracing    TracingConfig   `yaml:"tracing"`
	Logging    LoggingConfig   `yaml:"logging"`
	Store      StoreConfig     `yaml:"store"`     // 状态持久化
	Staging    StagingConfig   `yaml:"staging"`   // 对象存储
	Executor   ExecutorConfig  `yaml:"executor"`  // 任务启动
	Scheduler  SchedulerConfig `yaml:"scheduler"` // 参考调度器
	Monitor    MonitorConfig   `yaml:"monitor"`   // 状态推送

	loadedFrom string
}

// RuntimeConfig 组件运行循环配置
type RuntimeConfig struct {
	ExitOnError    bool          `yaml:"exit_on_error"`   // 回调出错时终止实例
	PollTimeout    time.Duration `yaml:"poll_timeout"`    // 单个输入通道的轮询超时
	IdleBackoff    time.Duration `yaml:"idle_backoff"`    // 一轮无输入时的退避
	IdleTimeout    time.Duration `yaml:"idle_timeout"`    // 空闲回调默认周期
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`   // 等待子上下文就绪
	StopTimeout    time.Duration `yaml:"stop_timeout"`    // 等待子进程退出
	Isolation      string        `yaml:"isolation"`       // process | inprocess
	StateChannel   string        `yaml:"state_channel"`   // state 主题所在桥接
	CommandChannel string        `yaml:"command_channel"` // command 主题所在桥接
	SandboxRoot    string        `yaml:"sandbox_root"`    // 任务沙箱根目录
}

// TransportConfig 桥接后端配置
type TransportConfig struct {
	Queue  string      `yaml:"queue"`  // memory | redis
	PubSub string      `yaml:"pubsub"` // memory | redis | etcd
	Redis  RedisConfig `yaml:"redis"`
	Etcd   EtcdConfig  `yaml:"etcd"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	URL      string `yaml:"url"` // 非空时直接使用
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`       // 只从 REDIS_PASSWORD 读取
	Group    string `yaml:"group"`   // Streams 消费组名
	MaxLen   int64  `yaml:"max_len"` // Streams 近似长度上限
}

// EtcdConfig etcd 连接配置
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LeaseTTL    int64         `yaml:"lease_ttl"` // 秒
	Register    bool          `yaml:"register"`  // 是否把桥接地址和实例注册到 etcd
}

// OwnershipConfig 延迟移交（worker 返回但未 advance）的保留策略
type OwnershipConfig struct {
	WarnAfter    time.Duration `yaml:"warn_after"`    // 超过后告警一次
	MaxRetention time.Duration `yaml:"max_retention"` // 0 表示不限
	OnExpire     string        `yaml:"on_expire"`     // warn | fail
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// ShapingConfig 按组件类型的 clone/drop 配置
type ShapingConfig struct {
	Clone map[string]CloneRule `yaml:"clone"`
	Drop  map[string]DropRule  `yaml:"drop"`
}

// CloneRule 入口/出口的复制倍数，<=1 表示不复制
type CloneRule struct {
	Input  int `yaml:"input"`
	Output int `yaml:"output"`
}

// DropRule 入口/出口的丢弃模式：none | clones | all
type DropRule struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// MetricsConfig Prometheus 指标
//
// 进程隔离时每个子进程有自己的注册表，第 n 个实例监听 ChildPortBase+n；
// 实例配置中的 Addr 已被替换为该实例自己的地址。
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Namespace     string `yaml:"namespace"`
	ChildPortBase int    `yaml:"child_port_base"` // 0 表示子进程不单独暴露
}

// ChildAddr 第 ordinal 个组件实例的指标地址，未启用或未配置端口起点时为空
func (m MetricsConfig) ChildAddr(ordinal int) string {
	if !m.Enabled || m.ChildPortBase <= 0 {
		return ""
	}
	host, _, err := net.SplitHostPort(m.Addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(m.ChildPortBase+ordinal))
}

// TracingConfig OpenTelemetry 追踪
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout | none
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StoreConfig 状态持久化配置
type StoreConfig struct {
	Driver        string        `yaml:"driver"` // sqlite | postgres | mongodb | none
	URL           string        `yaml:"url"`
	Path          string        `yaml:"path"` // sqlite 文件
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"-"` // 只从 STORE_PASSWORD 读取
	Name          string        `yaml:"name"`
	SSLMode       string        `yaml:"sslmode"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// StagingConfig MinIO 对象存储
type StagingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"` // MINIO_ACCESS_KEY
	SecretKey string `yaml:"-"` // MINIO_SECRET_KEY
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ExecutorConfig 任务启动
type ExecutorConfig struct {
	Launcher string        `yaml:"launcher"` // local | docker
	Image    string        `yaml:"image"`    // docker 默认镜像
	Timeout  time.Duration `yaml:"timeout"`  // 单任务超时，0 表示不限
}

// SchedulerConfig 参考调度器的资源视图
type SchedulerConfig struct {
	Nodes        []string      `yaml:"nodes"`
	CoresPerNode int           `yaml:"cores_per_node"`
	GPUsPerNode  int           `yaml:"gpus_per_node"`
	RetryEvery   time.Duration `yaml:"retry_every"`
	Strategy     string        `yaml:"strategy"` // continuous | round_robin
}

// MonitorConfig 状态推送
type MonitorConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}
