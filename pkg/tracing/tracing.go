// Package tracing OpenTelemetry TracerProvider 初始化
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config 追踪配置
type Config struct {
	Enabled  bool
	Exporter string    // stdout | none
	Service  string    // service.name
	Writer   io.Writer // stdout 导出目标，默认 os.Stderr
}

// ShutdownFunc 刷新并关闭 TracerProvider
type ShutdownFunc func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Setup 设置全局 TracerProvider，未启用时保持默认的空实现
func Setup(cfg Config) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return nil, noop, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			// stdout 在子进程中用于就绪握手
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, noop, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, noop, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	res := sdkresource.NewSchemaless(attribute.String("service.name", cfg.Service))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, tp.Shutdown, nil
}
