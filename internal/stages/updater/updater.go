// Package updater 状态持久化工作者
//
// 订阅 state 主题，按 uid 只保留最新快照，周期性批量写入状态库。
// 只读：从不改变实体状态，也不持有实体。
package updater

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pilot-runtime/internal/component"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/shared/storage"
	"pilot-runtime/pkg/logging"
)

// Worker 状态更新工作者
type Worker struct {
	component.BaseWorker

	// Store 为空时按 store 配置打开
	Store storage.StateStore

	c       *component.Component
	log     *logging.Logger
	batch   int
	pending map[string]*model.Entity
	flushed int
}

// New 组件工厂
func New() component.Stage {
	return &Worker{}
}

func (w *Worker) InitializeChild(ctx context.Context, c *component.Component) error {
	cfg := c.Config()
	w.c = c
	w.log = c.Logger()
	w.batch = cfg.Store.BatchSize
	w.pending = make(map[string]*model.Entity)

	if w.Store == nil {
		st, err := infra.OpenStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		w.Store = st
	}

	ch := cfg.Runtime.StateChannel
	if ch == "" || !c.HasChannel(ch) {
		return fmt.Errorf("update worker needs the state channel %q", ch)
	}
	if err := c.DeclareSubscriber(model.TopicState, ch, w.onState); err != nil {
		return err
	}
	return c.DeclareIdleCallback("flush", w.flush, cfg.Store.FlushInterval)
}

func (w *Worker) FinalizeChild(ctx context.Context, c *component.Component) error {
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := w.flush(flushCtx)
	if cerr := w.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.log.Info("Update worker stopped", "flushed", w.flushed)
	return err
}

func (w *Worker) onState(ctx context.Context, topic string, n *model.Notification) error {
	e, err := n.Entity()
	if err != nil {
		return err
	}
	if prev, ok := w.pending[e.UID]; ok && !storage.Newer(e, prev) {
		return nil
	}
	w.pending[e.UID] = e
	if w.batch > 0 && len(w.pending) >= w.batch {
		return w.flush(ctx)
	}
	return nil
}

// flush 按 uid 排序分批写入，失败的批次留待下次
func (w *Worker) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	uids := make([]string, 0, len(w.pending))
	for uid := range w.pending {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	size := w.batch
	if size <= 0 {
		size = len(uids)
	}
	start := time.Now()
	for i := 0; i < len(uids); i += size {
		end := min(i+size, len(uids))
		batch := make([]*model.Entity, 0, end-i)
		for _, uid := range uids[i:end] {
			batch = append(batch, w.pending[uid])
		}
		if err := w.Store.SaveEntities(ctx, batch); err != nil {
			w.log.WithError(err).Warn("State flush failed", "batch", len(batch), "pending", len(w.pending))
			return nil
		}
		for _, uid := range uids[i:end] {
			delete(w.pending, uid)
		}
		w.flushed += len(batch)
	}
	w.log.WithDuration(time.Since(start)).Debug("State flushed", "entities", len(uids))
	return nil
}
