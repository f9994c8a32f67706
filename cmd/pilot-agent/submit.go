package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pilot-runtime/internal/bridge"
	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/infra"
	"pilot-runtime/internal/shared/model"
	"pilot-runtime/internal/stages/pipeline"
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Put the task descriptions in FILE on the entry queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Transport.Queue == config.TransportMemory {
		return fmt.Errorf("submit needs a shared queue transport; use `run --tasks` with the memory transport")
	}
	ctx := cmd.Context()

	inf, err := infra.New(ctx, cfg.Transport)
	if err != nil {
		return err
	}
	defer inf.Close()
	router := bridge.NewRouter(inf)

	dir, err := entryDirectory(ctx, cfg, inf)
	if err != nil {
		return err
	}
	n, err := submitFile(ctx, router, dir, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "submitted %d tasks to %s\n", n, pipeline.EntryQueue)
	return nil
}

// entryDirectory 优先读取 etcd 中发布的目录，否则按 scheme 推算入口队列地址
func entryDirectory(ctx context.Context, cfg *config.Config, inf *infra.Infrastructure) (bridge.Directory, error) {
	if inf.Etcd != nil {
		dir, err := bridge.NewEtcdRegistry(inf.Etcd, cfg.SessionID, cfg.Transport.Etcd.LeaseTTL).LoadDirectory(ctx)
		if err != nil {
			return nil, err
		}
		if dir.Has(pipeline.EntryQueue) {
			return dir, nil
		}
	}
	return bridge.Directory{pipeline.EntryQueue: bridge.NewAddress(inf.QueueScheme, pipeline.EntryQueue)}, nil
}

// readTasks 读取 JSON 数组形式的任务描述
func readTasks(path string) ([]model.TaskDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var descs []model.TaskDescription
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return descs, nil
}

// submitFile 创建任务实体（NEW → SCHEDULING_PENDING）并放入入口队列
func submitFile(ctx context.Context, t bridge.Transport, dir bridge.Directory, path string) (int, error) {
	descs, err := readTasks(path)
	if err != nil {
		return 0, err
	}
	addr, err := dir.Lookup(pipeline.EntryQueue)
	if err != nil {
		return 0, err
	}
	producer, err := t.OpenProducer(ctx, addr.Sink)
	if err != nil {
		return 0, err
	}
	defer producer.Close()

	for i, d := range descs {
		e := model.NewTask(d)
		if err := e.Transition(model.StateSchedulingPending, time.Now()); err != nil {
			return i, err
		}
		if err := producer.Put(ctx, e); err != nil {
			return i, err
		}
		log.Printf("[agent.submit] uid=%s name=%s", e.UID, d.Name)
	}
	return len(descs), nil
}
