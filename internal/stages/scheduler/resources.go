package scheduler

import (
	"fmt"

	"pilot-runtime/internal/shared/model"
)

// ============================================================================
// Resources - Pilot 的节点/核视图
// ============================================================================

// node 单个节点的占用情况，true 表示已分配
type node struct {
	name  string
	cores []bool
	gpus  []bool
}

func (n *node) freeCores() int {
	free := 0
	for _, busy := range n.cores {
		if !busy {
			free++
		}
	}
	return free
}

// contiguous 返回第一段长度为 count 的空闲核起点，没有则 -1
func (n *node) contiguous(count int) int {
	run := 0
	for i, busy := range n.cores {
		if busy {
			run = 0
			continue
		}
		run++
		if run == count {
			return i - count + 1
		}
	}
	return -1
}

func (n *node) freeGPUs(count int) []int {
	var out []int
	for i, busy := range n.gpus {
		if !busy {
			out = append(out, i)
			if len(out) == count {
				return out
			}
		}
	}
	return nil
}

// Resources 节点按名称有序
type Resources struct {
	nodes  []*node
	byName map[string]*node
}

// NewResources 按节点名和每节点核数/GPU 数创建
func NewResources(names []string, coresPerNode, gpusPerNode int) *Resources {
	r := &Resources{byName: make(map[string]*node)}
	for _, name := range names {
		r.AddNode(name, coresPerNode, gpusPerNode)
	}
	return r
}

// AddNode 增加节点，已存在时忽略
func (r *Resources) AddNode(name string, cores, gpus int) {
	if _, ok := r.byName[name]; ok {
		return
	}
	n := &node{name: name, cores: make([]bool, cores), gpus: make([]bool, gpus)}
	r.nodes = append(r.nodes, n)
	r.byName[name] = n
}

// Nodes 节点名列表
func (r *Resources) Nodes() []string {
	out := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		out[i] = n.name
	}
	return out
}

// Capacity 总核数
func (r *Resources) Capacity() int {
	total := 0
	for _, n := range r.nodes {
		total += len(n.cores)
	}
	return total
}

// Free 空闲核数
func (r *Resources) Free() int {
	total := 0
	for _, n := range r.nodes {
		total += n.freeCores()
	}
	return total
}

// CoresPerNode 最大单节点核数
func (r *Resources) CoresPerNode() int {
	max := 0
	for _, n := range r.nodes {
		if len(n.cores) > max {
			max = len(n.cores)
		}
	}
	return max
}

// Fits 请求在空闲状态下能否满足
func (r *Resources) Fits(cores, gpus int) bool {
	if cores > r.Capacity() {
		return false
	}
	if gpus == 0 {
		return true
	}
	for _, n := range r.nodes {
		if len(n.cores) >= cores && len(n.gpus) >= gpus {
			return true
		}
	}
	return false
}

// claim 标记槽位为已分配
func (r *Resources) claim(s *model.Slots) {
	r.mark(s, true)
}

// Release 归还槽位，重复归还无副作用
func (r *Resources) Release(s *model.Slots) {
	r.mark(s, false)
}

func (r *Resources) mark(s *model.Slots, busy bool) {
	if s == nil {
		return
	}
	for _, ns := range s.Nodes {
		n, ok := r.byName[ns.Node]
		if !ok {
			continue
		}
		for _, c := range ns.Cores {
			if c >= 0 && c < len(n.cores) {
				n.cores[c] = busy
			}
		}
		for _, g := range ns.GPUs {
			if g >= 0 && g < len(n.gpus) {
				n.gpus[g] = busy
			}
		}
	}
}

// String 调试输出，如 "n0:1/4 n1:4/4"
func (r *Resources) String() string {
	out := ""
	for i, n := range r.nodes {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%d/%d", n.name, n.freeCores(), len(n.cores))
	}
	return out
}
