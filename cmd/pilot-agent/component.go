package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/component"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/stages"
	"pilot-runtime/pkg/tracing"
)

var componentCmd = &cobra.Command{
	Use:    "component",
	Short:  "Run one component instance (child process entrypoint)",
	Hidden: true,
	RunE:   runComponent,
}

// runComponent ChildSpec 从 stdin 读入，就绪握手写到 stdout，日志走 stderr
func runComponent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return component.ServeChild(ctx, os.Stdin, os.Stdout, stages.Registry(), buildChildEnv)
}

// buildChildEnv 子进程自己的传输、追踪和指标；父进程的注册表在进程边界之外
func buildChildEnv(ctx context.Context, spec component.ChildSpec) (component.Env, func() error, error) {
	name := component.InstanceName(spec.Owner, spec.CType, spec.Index)

	inf, err := infra.New(ctx, spec.Config.Transport)
	if err != nil {
		return component.Env{}, nil, err
	}
	router := bridge.NewRouter(inf)
	closers := []func() error{router.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	// stdout 留给握手，span 写到 stderr
	_, shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:  spec.Config.Tracing.Enabled,
		Exporter: spec.Config.Tracing.Exporter,
		Service:  name,
		Writer:   os.Stderr,
	})
	if err != nil {
		closeAll()
		return component.Env{}, nil, err
	}
	closers = append(closers, func() error { return shutdownTracing(context.Background()) })

	env := component.Env{
		Transport: router,
		Directory: spec.Directory,
		Logger:    newLogger(spec.Config, name),
	}

	mc := spec.Config.Metrics
	if mc.Enabled && mc.Addr != "" {
		promReg := newMetricsRegistry()
		env.Metrics = component.NewMetrics(promReg, mc.Namespace)
		srv := serveMetrics(mc.Addr, promReg)
		closers = append(closers, func() error { return srv.Shutdown(context.Background()) })
	}
	return env, closeAll, nil
}
