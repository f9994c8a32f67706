// Package storage 定义实体状态持久化抽象
//
// update 组件把 state 主题上的通知批量写入 StateStore。
// 各驱动实现（repository / mongostore / MemoryStore）负责把底层错误转换为 errors.go 中的领域错误。
//
// 写入按 UID 覆盖，但只接受状态历史不短于已存记录的快照：
// 通知可能乱序到达，旧快照不会覆盖新快照。
package storage

import (
	"context"

	"pilot-runtime/internal/shared/model"
)

// StateStore 实体快照存储
type StateStore interface {
	// SaveEntities 批量写入快照，过期快照静默忽略
	SaveEntities(ctx context.Context, entities []*model.Entity) error

	// GetEntity 读取单个实体，不存在返回 ErrNotFound
	GetEntity(ctx context.Context, uid string) (*model.Entity, error)

	// ListEntities 按条件列出实体，按 UID 排序
	ListEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error)

	// CountByState 按状态统计实体数
	CountByState(ctx context.Context) (map[model.State]int, error)

	Close() error
}

// EntityFilter 列表查询条件，零值字段不参与过滤
type EntityFilter struct {
	Type     model.EntityType
	State    model.State
	PilotUID string
	Limit    int
}

// Match 内存实现使用的过滤判断
func (f EntityFilter) Match(e *model.Entity) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.State != "" && e.State != f.State {
		return false
	}
	if f.PilotUID != "" && e.PilotUID != f.PilotUID {
		return false
	}
	return true
}

// Newer 判断 candidate 是否应覆盖 stored
func Newer(candidate, stored *model.Entity) bool {
	if stored == nil {
		return true
	}
	return len(candidate.StateHistory) >= len(stored.StateHistory)
}
