package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/model"
)

func TestOwnership_AcquireRelease(t *testing.T) {
	o := NewOwnership(config.OwnershipConfig{})
	a := rawTask("a", model.StateNew)
	b := rawTask("b", model.StateNew)

	o.Acquire(a)
	o.Acquire(b)
	o.Acquire(a)
	assert.Equal(t, 2, o.Outstanding())
	assert.Equal(t, []string{"a", "b"}, o.UIDs())

	assert.True(t, o.Release("a"))
	assert.False(t, o.Release("a"))
	assert.False(t, o.Held("a"))
	assert.True(t, o.Held("b"))
}

func TestOwnership_SweepWarnsOnce(t *testing.T) {
	now := time.Unix(1000, 0)
	o := NewOwnership(config.OwnershipConfig{WarnAfter: time.Minute, OnExpire: ExpireWarn})
	o.now = func() time.Time { return now }
	o.Acquire(rawTask("a", model.StateExecuting))

	warn, expired := o.sweep()
	assert.Empty(t, warn)
	assert.Empty(t, expired)

	now = now.Add(2 * time.Minute)
	warn, _ = o.sweep()
	require.Len(t, warn, 1)
	warn, _ = o.sweep()
	assert.Empty(t, warn, "只告警一次")
	assert.Equal(t, 1, o.Outstanding(), "max_retention 为 0 时不限保留")
}

func TestOwnership_ExpireFail(t *testing.T) {
	now := time.Unix(1000, 0)
	o := NewOwnership(config.OwnershipConfig{MaxRetention: time.Minute, OnExpire: ExpireFail})
	o.now = func() time.Time { return now }
	o.Acquire(rawTask("a", model.StateExecuting))

	now = now.Add(time.Minute)
	_, expired := o.sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, 0, o.Outstanding(), "fail 模式下超期即移除")
}

func TestReap_FailsExpiredEntity(t *testing.T) {
	h := newHarness(t)
	h.cfg.Ownership = config.OwnershipConfig{MaxRetention: time.Nanosecond, OnExpire: ExpireFail, ReapInterval: 5 * time.Millisecond}
	stage := &pipeStage{work: func(ctx context.Context, c *Component, e *model.Entity) error {
		return nil // 不 advance，保留所有权
	}}
	c, _ := h.start(stage)

	h.put("qin_queue", rawTask("kept", model.StateNew))

	upd := h.nextUpdate(time.Second)
	require.NotNil(t, upd)
	assert.Equal(t, "kept", upd.UID)
	assert.Equal(t, model.StateFailed, upd.State)
	assert.Eventually(t, func() bool { return c.Ownership().Outstanding() == 0 }, time.Second, time.Millisecond)
}
