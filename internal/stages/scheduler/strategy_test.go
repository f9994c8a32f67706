package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/shared/model"
)

func TestContinuous_SingleNode(t *testing.T) {
	r := NewResources([]string{"n0", "n1"}, 4, 0)
	s := Continuous{}

	a := s.Allocate(r, Request{Cores: 3})
	require.NotNil(t, a)
	r.claim(a)
	assert.Equal(t, "n0", a.Nodes[0].Node)
	assert.Equal(t, []int{0, 1, 2}, a.Nodes[0].Cores)

	b := s.Allocate(r, Request{Cores: 2})
	require.NotNil(t, b, "n0 只剩 1 核，应落到 n1")
	r.claim(b)
	assert.Equal(t, "n1", b.Nodes[0].Node)

	c := s.Allocate(r, Request{Cores: 1})
	require.NotNil(t, c)
	assert.Equal(t, "n0", c.Nodes[0].Node)
	assert.Equal(t, []int{3}, c.Nodes[0].Cores)
	assert.Equal(t, 8, r.Capacity())
	assert.Equal(t, 3, r.Free())
}

func TestContinuous_SpansNodes(t *testing.T) {
	r := NewResources([]string{"n0", "n1", "n2"}, 4, 0)
	s := Continuous{}

	a := s.Allocate(r, Request{Cores: 6})
	require.NotNil(t, a)
	require.Len(t, a.Nodes, 2)
	assert.Equal(t, []int{0, 1, 2, 3}, a.Nodes[0].Cores)
	assert.Equal(t, []int{0, 1}, a.Nodes[1].Cores)
	assert.Equal(t, 6, a.CoreCount())
	r.claim(a)

	assert.Nil(t, s.Allocate(r, Request{Cores: 5}), "剩余空闲核不足一段连续区间")
	r.Release(a)
	assert.Equal(t, 12, r.Free())
}

func TestContinuous_GPUs(t *testing.T) {
	r := NewResources([]string{"n0"}, 4, 1)
	s := Continuous{}

	a := s.Allocate(r, Request{Cores: 1, GPUs: 1})
	require.NotNil(t, a)
	assert.Equal(t, []int{0}, a.Nodes[0].GPUs)
	r.claim(a)

	assert.Nil(t, s.Allocate(r, Request{Cores: 1, GPUs: 1}), "GPU 已占满")
	assert.False(t, r.Fits(8, 1), "超出总核数")
}

func TestRoundRobin_SpreadsLoad(t *testing.T) {
	r := NewResources([]string{"n0", "n1", "n2"}, 2, 0)
	s := &RoundRobin{}

	var nodes []string
	for i := 0; i < 3; i++ {
		a := s.Allocate(r, Request{Cores: 1})
		require.NotNil(t, a)
		r.claim(a)
		nodes = append(nodes, a.Nodes[0].Node)
	}
	assert.Equal(t, []string{"n0", "n1", "n2"}, nodes)
}

func TestStrategyChain_Fallback(t *testing.T) {
	r := NewResources([]string{"n0"}, 2, 0)
	chain := NewStrategyChain(never{}, Continuous{})

	slots, name := chain.Allocate(r, Request{Cores: 2})
	require.NotNil(t, slots)
	assert.Equal(t, "continuous", name)

	r.claim(slots)
	slots, name = chain.Allocate(r, Request{Cores: 1})
	assert.Nil(t, slots)
	assert.Equal(t, "no_strategy_matched", name)
	assert.Len(t, chain.Strategies(), 2)
}

func TestResources_AddNodeAndString(t *testing.T) {
	r := NewResources([]string{"a"}, 2, 0)
	r.AddNode("b", 4, 0)
	r.AddNode("a", 8, 0)
	assert.Equal(t, []string{"a", "b"}, r.Nodes())
	assert.Equal(t, 4, r.CoresPerNode())
	assert.Equal(t, "a:2/2 b:4/4", r.String())
}

func TestNewStrategy(t *testing.T) {
	assert.Equal(t, "round_robin", NewStrategy("round_robin").Name())
	assert.Equal(t, "continuous", NewStrategy("").Name())
}

type never struct{}

func (never) Name() string { return "never" }
func (never) Allocate(r *Resources, req Request) *model.Slots {
	return nil
}
