// Package monitor 状态推送工作者
//
// 订阅 state 主题，把每次状态变化转发给 WebSocket 客户端。只读。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"pilot-runtime/internal/component"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/pkg/logging"
)

// Worker 监控工作者
type Worker struct {
	component.BaseWorker

	hub    *Hub
	server *http.Server
	addr   string
	log    *logging.Logger
}

// New 组件工厂
func New() component.Stage {
	return &Worker{}
}

// Hub 连接集合
func (w *Worker) Hub() *Hub { return w.hub }

// Addr 实际监听地址，未启动 HTTP 时为空
func (w *Worker) Addr() string { return w.addr }

func (w *Worker) InitializeChild(ctx context.Context, c *component.Component) error {
	cfg := c.Config()
	w.log = c.Logger()
	w.hub = NewHub()

	ch := cfg.Runtime.StateChannel
	if ch == "" || !c.HasChannel(ch) {
		return fmt.Errorf("monitor needs the state channel %q", ch)
	}
	if err := c.DeclareSubscriber(model.TopicState, ch, w.onState); err != nil {
		return err
	}

	if cfg.Monitor.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Monitor.Path, w.hub)
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", cfg.Monitor.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", cfg.Monitor.Addr, err)
	}
	w.addr = ln.Addr().String()
	w.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.WithError(err).Error("Monitor server failed")
		}
	}()
	w.log.Info("Monitor listening", "addr", w.addr, "path", cfg.Monitor.Path)
	return nil
}

func (w *Worker) FinalizeChild(ctx context.Context, c *component.Component) error {
	w.hub.Close()
	if w.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(shutdownCtx)
}

func (w *Worker) onState(ctx context.Context, topic string, n *model.Notification) error {
	e, err := n.Entity()
	if err != nil {
		return err
	}
	w.hub.Record(e)
	return nil
}
