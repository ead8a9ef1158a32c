// Package admission gates expensive, decision-service-calling actions.
//
// Two independent mechanisms compose: a per-client cooldown (reject, never
// queue) and a global counting permit pool capping concurrent heavy actions
// (queue with a notice, then block).
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Controller struct {
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	permits chan struct{}
}

func New(cooldown time.Duration, permits int) *Controller {
	if permits < 1 {
		permits = 1
	}
	return &Controller{
		cooldown: cooldown,
		limiters: make(map[string]*rate.Limiter),
		permits:  make(chan struct{}, permits),
	}
}

// AllowNow reports whether the client is past its cooldown. A rejected call
// does not reserve anything; the client simply retries later.
func (c *Controller) AllowNow(clientID string) bool {
	if c.cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	lim, ok := c.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.cooldown), 1)
		c.limiters[clientID] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}

// Forget drops the per-client cooldown state, called when a session closes.
func (c *Controller) Forget(clientID string) {
	c.mu.Lock()
	delete(c.limiters, clientID)
	c.mu.Unlock()
}

// Acquire takes one permit from the pool. When no permit is immediately
// available it calls onQueued once, then blocks until a permit frees or the
// context is canceled. The returned release is idempotent and must be
// deferred by the caller so a failure can never leak a permit.
func (c *Controller) Acquire(ctx context.Context, onQueued func()) (release func(), err error) {
	select {
	case c.permits <- struct{}{}:
	default:
		if onQueued != nil {
			onQueued()
		}
		select {
		case c.permits <- struct{}{}:
		case <-ctx.Done():
			return func() {}, ctx.Err()
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-c.permits })
	}, nil
}

// InUse reports how many permits are currently held.
func (c *Controller) InUse() int { return len(c.permits) }

// Capacity reports the pool size.
func (c *Controller) Capacity() int { return cap(c.permits) }
