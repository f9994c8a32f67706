// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	SessionIDKey ContextKey = "session_id"
	ComponentKey ContextKey = "component"
	UIDKey       ContextKey = "uid"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"` // json or text
	Output    string `yaml:"output" json:"output"` // stdout, stderr, discard, or file path
	Component string `yaml:"-" json:"component"`
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
//
// 默认输出到 stderr：子进程的 stdout 用于就绪握手，不能混入日志。
func New(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)

	var output io.Writer
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "discard":
		output = io.Discard
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With(slog.String("component", cfg.Component))
	}
	return &Logger{
		Logger:    l,
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    os.Getenv("LOG_OUTPUT"),
		Component: component,
	})
}

// Nop 丢弃所有输出的日志器，测试用
func Nop() *Logger {
	return New(Config{Output: "discard"})
}

// Component 返回日志器所属组件名
func (l *Logger) Component() string {
	return l.component
}

// Named 派生一个属于新组件名的日志器
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("component", component)),
		component: component,
	}
}

// WithContext 从上下文提取会话信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if sid, ok := ctx.Value(SessionIDKey).(string); ok && sid != "" {
		attrs = append(attrs, slog.String("session_id", sid))
	}
	if uid, ok := ctx.Value(UIDKey).(string); ok && uid != "" {
		attrs = append(attrs, slog.String("uid", uid))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithUID 添加实体 UID
func (l *Logger) WithUID(uid string) *Logger {
	return l.with(slog.String("uid", uid))
}

// WithState 添加实体状态
func (l *Logger) WithState(state string) *Logger {
	return l.with(slog.String("state", state))
}

// WithChannel 添加通道名
func (l *Logger) WithChannel(channel string) *Logger {
	return l.with(slog.String("channel", channel))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// EntityLog 实体事件日志
func (l *Logger) EntityLog(action, uid, state string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("uid", uid),
		slog.String("state", state),
	}
	attrs = append(attrs, extra...)
	l.Logger.Debug("Entity event", attrs...)
}

// StoreLog 持久化操作日志
func (l *Logger) StoreLog(operation, table string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("table", table),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("Store operation failed", attrs...)
	} else {
		l.Logger.Debug("Store operation", attrs...)
	}
}
