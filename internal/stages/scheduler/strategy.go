package scheduler

import (
	"pilot-runtime/internal/shared/model"
)

// Strategy 分配策略接口
//
// 策略在给定资源视图上为请求选出槽位，不修改视图；
// 无法满足时返回 nil。策略可以组合成策略链，按优先级依次尝试。
type Strategy interface {
	// Name 返回策略名称（用于日志和配置）
	Name() string

	// Allocate 选出槽位
	Allocate(r *Resources, req Request) *model.Slots
}

// Request 分配请求
type Request struct {
	UID   string
	Cores int
	GPUs  int
}

// RequestOf 从任务描述生成请求
func RequestOf(e *model.Entity) Request {
	req := Request{UID: e.UID, Cores: 1}
	if e.Task != nil {
		req.Cores = e.Task.CoresOrDefault()
		req.GPUs = e.Task.GPUs
	}
	return req
}

// StrategyChain 策略链
//
// 按优先级组织多个策略，依次尝试直到分配成功。
type StrategyChain struct {
	strategies []Strategy
}

// NewStrategyChain 创建策略链
func NewStrategyChain(strategies ...Strategy) *StrategyChain {
	return &StrategyChain{strategies: strategies}
}

// Allocate 按策略链顺序分配，返回槽位和命中的策略名
func (c *StrategyChain) Allocate(r *Resources, req Request) (*model.Slots, string) {
	for _, s := range c.strategies {
		if slots := s.Allocate(r, req); slots != nil {
			return slots, s.Name()
		}
	}
	return nil, "no_strategy_matched"
}

// Strategies 返回当前策略列表（只读）
func (c *StrategyChain) Strategies() []Strategy {
	out := make([]Strategy, len(c.strategies))
	copy(out, c.strategies)
	return out
}

// ============================================================================
// Continuous - 连续分配
// ============================================================================

// Continuous 单节点任务取第一个有连续空闲核的节点；
// 跨节点任务占用若干个完全空闲的相邻节点，最后一个节点可以只占一部分。
type Continuous struct{}

func (Continuous) Name() string { return "continuous" }

func (Continuous) Allocate(r *Resources, req Request) *model.Slots {
	return allocateFrom(r, req, 0)
}

// ============================================================================
// RoundRobin - 轮转起点
// ============================================================================

// RoundRobin 与 Continuous 规则相同，但每次从下一个节点开始查找，把负载摊到各节点
type RoundRobin struct {
	next int
}

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) Allocate(r *Resources, req Request) *model.Slots {
	if len(r.nodes) == 0 {
		return nil
	}
	start := s.next % len(r.nodes)
	slots := allocateFrom(r, req, start)
	if slots != nil {
		s.next = start + 1
	}
	return slots
}

// allocateFrom 从 start 号节点开始环形查找
func allocateFrom(r *Resources, req Request, start int) *model.Slots {
	n := len(r.nodes)
	if n == 0 || req.Cores <= 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		nd := r.nodes[(start+i)%n]
		if req.Cores > len(nd.cores) {
			continue
		}
		first := nd.contiguous(req.Cores)
		if first < 0 {
			continue
		}
		var gpus []int
		if req.GPUs > 0 {
			if gpus = nd.freeGPUs(req.GPUs); gpus == nil {
				continue
			}
		}
		return &model.Slots{Nodes: []model.NodeSlot{{
			Node:  nd.name,
			Cores: coreRange(first, req.Cores),
			GPUs:  gpus,
		}}}
	}

	// 跨节点任务不分配 GPU
	if req.GPUs > 0 {
		return nil
	}
	return spanNodes(r, req.Cores)
}

// spanNodes 在节点序列上找一段相邻节点：前面的完全空闲，最后一个从 0 号核起有足够空闲
func spanNodes(r *Resources, cores int) *model.Slots {
	for i := range r.nodes {
		remaining := cores
		var picked []model.NodeSlot
		for j := i; j < len(r.nodes) && remaining > 0; j++ {
			nd := r.nodes[j]
			take := len(nd.cores)
			if remaining < take {
				take = remaining
			}
			if nd.contiguous(take) != 0 {
				break
			}
			// 中间节点必须整节点空闲
			if take < remaining && nd.freeCores() != len(nd.cores) {
				break
			}
			picked = append(picked, model.NodeSlot{Node: nd.name, Cores: coreRange(0, take)})
			remaining -= take
		}
		if remaining == 0 && len(picked) > 1 {
			return &model.Slots{Nodes: picked}
		}
	}
	return nil
}

func coreRange(first, count int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = first + i
	}
	return out
}

// NewStrategy 按名称创建策略
func NewStrategy(name string) Strategy {
	switch name {
	case "round_robin":
		return &RoundRobin{}
	default:
		return Continuous{}
	}
}
