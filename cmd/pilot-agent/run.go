package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/component"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/stages"
	"pilot-runtime/pkg/tracing"
)

var runTasksFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start bridges and components and run until interrupted",
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().StringVar(&runTasksFile, "tasks", "", "submit the task descriptions in this JSON file after startup")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Check(); err != nil {
		return err
	}
	logger := newLogger(cfg, "pilot-agent")
	logger.Info("Starting pilot agent", "session", cfg.SessionID, "isolation", cfg.Runtime.Isolation, "config", cfg.LoadedFrom())

	_, shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
		Service:  "pilot-agent",
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// 传输与桥接
	// ========================================================================

	inf, err := infra.New(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	defer inf.Close()
	router := bridge.NewRouter(inf)

	bridges, err := bridge.StartBridges(ctx, router, cfg.Bridges)
	if err != nil {
		return err
	}
	defer bridge.StopBridges(context.Background(), bridges)
	dir := bridge.DirectoryOf(bridges)

	env := component.Env{Transport: router, Directory: dir, Logger: logger}
	if cfg.Transport.Etcd.Register && inf.Etcd != nil {
		reg := bridge.NewEtcdRegistry(inf.Etcd, cfg.SessionID, cfg.Transport.Etcd.LeaseTTL)
		if err := reg.PublishDirectory(ctx, bridges); err != nil {
			return err
		}
		defer reg.ClearDirectory(context.Background())
		env.Registrar = reg
	}

	// ========================================================================
	// 指标
	// ========================================================================

	if cfg.Metrics.Enabled {
		promReg := newMetricsRegistry()
		env.Metrics = component.NewMetrics(promReg, cfg.Metrics.Namespace)
		srv := serveMetrics(cfg.Metrics.Addr, promReg)
		defer srv.Shutdown(context.Background())
	}

	// ========================================================================
	// 组件
	// ========================================================================

	registry := stages.Registry()
	var runner component.Runner
	if cfg.Runtime.Isolation == config.IsolationProcess {
		runner = &component.ProcessRunner{Args: []string{"component"}}
	} else {
		runner = component.NewInProcessRunner(registry, env)
	}

	comps, err := component.StartComponents(ctx, cfg.Components, registry, cfg, env, runner)
	if err != nil {
		return err
	}
	ordered := orderedComponents(comps)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.StopTimeout*time.Duration(max(1, len(ordered))))
		defer cancel()
		if err := component.StopComponents(stopCtx, ordered); err != nil {
			logger.WithError(err).Warn("Components stopped with errors")
		}
		logger.Info("Pilot agent stopped")
	}()
	logger.Info("Pilot agent running", "components", len(comps), "bridges", len(bridges))

	if runTasksFile != "" {
		n, err := submitFile(ctx, router, dir, runTasksFile)
		if err != nil {
			return err
		}
		logger.Info("Tasks submitted", "count", n)
	}

	return watch(ctx, ordered)
}

// watch 等待信号或任一实例退出
func watch(ctx context.Context, comps []*component.Component) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[agent.shutdown] reason=signal")
			return nil
		case <-ticker.C:
			for _, c := range comps {
				if !c.Alive() {
					log.Printf("[agent.shutdown] reason=dead_instance name=%s", c.Name())
					return fmt.Errorf("component %s died", c.Name())
				}
			}
		}
	}
}

// orderedComponents 按实例名排序，停止时倒序
func orderedComponents(comps map[string]*component.Component) []*component.Component {
	names := make([]string, 0, len(comps))
	for name := range comps {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*component.Component, 0, len(names))
	for _, name := range names {
		out = append(out, comps[name])
	}
	return out
}

// newMetricsRegistry 带 Go 运行时与进程采集器的注册表
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[agent.metrics] serve failed addr=%s err=%v", addr, err)
		}
	}()
	log.Printf("[agent.metrics] listening addr=%s", addr)
	return srv
}
