package storage

import (
	"context"
	"sort"
	"sync"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// MemoryStore - 进程内实现
// ============================================================================

// MemoryStore 进程内实体快照
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*model.Entity
	saves    int
}

// NewMemoryStore 创建 MemoryStore 实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*model.Entity)}
}

func (s *MemoryStore) SaveEntities(ctx context.Context, entities []*model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for _, e := range entities {
		if Newer(e, s.entities[e.UID]) {
			s.entities[e.UID] = e.Clone()
		}
	}
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, uid string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if filter.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByState(ctx context.Context) (map[model.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[model.State]int)
	for _, e := range s.entities {
		counts[e.State]++
	}
	return counts, nil
}

// Saves SaveEntities 被调用的次数
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }

// ============================================================================
// NoOpStore - 空操作实现（driver=none）
// ============================================================================

// NoOpStore 丢弃所有写入
type NoOpStore struct{}

func (NoOpStore) SaveEntities(ctx context.Context, entities []*model.Entity) error { return nil }
func (NoOpStore) GetEntity(ctx context.Context, uid string) (*model.Entity, error) {
	return nil, ErrNotFound
}
func (NoOpStore) ListEntities(ctx context.Context, filter EntityFilter) ([]*model.Entity, error) {
	return nil, nil
}
func (NoOpStore) CountByState(ctx context.Context) (map[model.State]int, error) {
	return map[model.State]int{}, nil
}
func (NoOpStore) Close() error { return nil }

var (
	_ StateStore = (*MemoryStore)(nil)
	_ StateStore = NoOpStore{}
)
