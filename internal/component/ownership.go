package component

import (
	"context"
	"sort"
	"sync"
	"time"

	"pilot-runtime/internal/config"
	"pilot-runtime/internal/shared/model"
)

// 保留超时后的处理
const (
	ExpireWarn = "warn"
	ExpireFail = "fail"
)

// Ownership 已交给 worker 但尚未移交的实体
//
// worker 返回而没有 advance 时实体仍归本实例所有，直到推送、进入终态
// 或调用 Release。超过 warn_after 记录一次告警；max_retention > 0 时
// 超期按 on_expire 处理。
type Ownership struct {
	mu     sync.Mutex
	held   map[string]*holding
	policy config.OwnershipConfig
	now    func() time.Time
}

type holding struct {
	entity  *model.Entity
	since   time.Time
	warned  bool
	expired bool
}

// NewOwnership 创建登记表
func NewOwnership(policy config.OwnershipConfig) *Ownership {
	return &Ownership{
		held:   make(map[string]*holding),
		policy: policy,
		now:    time.Now,
	}
}

// Acquire 登记实体
func (o *Ownership) Acquire(e *model.Entity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.held[e.UID]; ok {
		return
	}
	o.held[e.UID] = &holding{entity: e, since: o.now()}
}

// Release 结束对实体的所有权，返回之前是否持有
func (o *Ownership) Release(uid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.held[uid]
	delete(o.held, uid)
	return ok
}

// Held 是否持有
func (o *Ownership) Held(uid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.held[uid]
	return ok
}

// Outstanding 持有数量
func (o *Ownership) Outstanding() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.held)
}

// UIDs 持有的实体 UID（排序）
func (o *Ownership) UIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.held))
	for uid := range o.held {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// sweep 返回需要告警和已超期的实体；超期实体从登记中移除
func (o *Ownership) sweep() (warn []*model.Entity, expired []*model.Entity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for uid, h := range o.held {
		age := now.Sub(h.since)
		if o.policy.MaxRetention > 0 && age >= o.policy.MaxRetention {
			if o.policy.OnExpire == ExpireFail {
				delete(o.held, uid)
				expired = append(expired, h.entity)
			} else if !h.expired {
				h.expired = true
				expired = append(expired, h.entity)
			}
			continue
		}
		if o.policy.WarnAfter > 0 && age >= o.policy.WarnAfter && !h.warned {
			h.warned = true
			warn = append(warn, h.entity)
		}
	}
	return warn, expired
}

// reap 内置空闲回调：执行保留策略
func (c *Component) reap(ctx context.Context) error {
	warn, expired := c.own.sweep()
	for _, e := range warn {
		c.log.WithUID(e.UID).WithState(string(e.State)).Warn("Entity retained without advance",
			"warn_after", c.own.policy.WarnAfter.String())
	}
	for _, e := range expired {
		log := c.log.WithUID(e.UID).WithState(string(e.State))
		if c.own.policy.OnExpire != ExpireFail {
			log.Warn("Entity retention expired", "max_retention", c.own.policy.MaxRetention.String())
			continue
		}
		log.Error("Entity retention expired, failing")
		c.failEntity(ctx, e, ErrRetentionExpired)
	}
	c.env.Metrics.setOutstanding(c.ctype, c.name, c.own.Outstanding())
	return nil
}
