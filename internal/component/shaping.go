package component

import (
	"context"
	"fmt"

	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/model"
)

// Direction shaping 发生在入口还是出口
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// CloneHook 把一个任务展开为若干个（结果需包含要保留的原实体）
type CloneHook func(ctx context.Context, e *model.Entity, dir Direction) []*model.Entity

// DropHook 返回 false 表示吸收该任务
type DropHook func(ctx context.Context, e *model.Entity, dir Direction) (*model.Entity, bool)

// DropObserver 任务被任一 drop 钩子吸收后调用，用于回收该任务占用的资源
type DropObserver func(ctx context.Context, e *model.Entity, dir Direction)

// drop 模式
const (
	DropNone   = "none"
	DropClones = "clones"
	DropAll    = "all"
)

// ReplicateHook 在指定方向上把任务复制为 factor 份
func ReplicateHook(dir Direction, factor int) CloneHook {
	return func(ctx context.Context, e *model.Entity, d Direction) []*model.Entity {
		if d != dir || factor <= 1 {
			return []*model.Entity{e}
		}
		out := make([]*model.Entity, 0, factor)
		out = append(out, e)
		for i := 1; i < factor; i++ {
			cl := e.Clone()
			cl.UID = fmt.Sprintf("%s.clone_%04d", e.UID, i)
			cl.CloneOf = e.UID
			out = append(out, cl)
		}
		return out
	}
}

// DropClonesHook 在指定方向上按模式吸收任务
func DropClonesHook(dir Direction, mode string) DropHook {
	return func(ctx context.Context, e *model.Entity, d Direction) (*model.Entity, bool) {
		if d != dir {
			return e, true
		}
		switch mode {
		case DropAll:
			return nil, false
		case DropClones:
			return e, !e.IsClone()
		default:
			return e, true
		}
	}
}

// configHooks 按组件类型从配置生成内置 shaping 钩子
func configHooks(cfg config.ShapingConfig, ctype string) ([]CloneHook, []DropHook) {
	var clones []CloneHook
	var drops []DropHook
	if rule, ok := cfg.Clone[ctype]; ok {
		if rule.Input > 1 {
			clones = append(clones, ReplicateHook(DirectionInput, rule.Input))
		}
		if rule.Output > 1 {
			clones = append(clones, ReplicateHook(DirectionOutput, rule.Output))
		}
	}
	if rule, ok := cfg.Drop[ctype]; ok {
		if rule.Input != "" && rule.Input != DropNone {
			drops = append(drops, DropClonesHook(DirectionInput, rule.Input))
		}
		if rule.Output != "" && rule.Output != DropNone {
			drops = append(drops, DropClonesHook(DirectionOutput, rule.Output))
		}
	}
	return clones, drops
}

// shape 依次执行 drop 与 clone 钩子；被吸收的任务不会再复制，Pilot 不参与
func (c *Component) shape(ctx context.Context, dir Direction, e *model.Entity) []*model.Entity {
	if !e.IsTask() {
		return []*model.Entity{e}
	}
	for _, h := range c.dropHooks {
		kept, ok := h(ctx, e, dir)
		if !ok || kept == nil {
			c.log.EntityLog("drop", e.UID, string(e.State), "direction", string(dir))
			c.env.Metrics.dropped(c.ctype, "hook")
			c.own.Release(e.UID)
			for _, obs := range c.dropObservers {
				obs(ctx, e, dir)
			}
			return nil
		}
		e = kept
	}

	things := []*model.Entity{e}
	for _, h := range c.cloneHooks {
		var next []*model.Entity
		for _, t := range things {
			next = append(next, h(ctx, t, dir)...)
		}
		things = next
	}
	if len(things) > 1 {
		c.log.EntityLog("clone", e.UID, string(e.State), "direction", string(dir), "count", len(things))
	}
	return things
}
