package ksync

import (
	"sync/atomic"
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// Condition is the WebKit WTF::Condition design, distinct from Condvar
// above: instead of coupling itself to one particular mutex, Wait takes
// the validate/before-sleep pair directly, so it composes with any
// lock-like type. A single has_waiters flag makes NotifyOne/NotifyAll a
// load-and-branch when nobody is waiting. Grounded on
// original_source/kernel/sync/condition.{h,c}.
type Condition struct {
	lot        *parkinglot.Lot
	hasWaiters atomic.Bool
}

// NewCondition returns a Condition parking through lot.
func NewCondition(lot *parkinglot.Lot) *Condition {
	return &Condition{lot: lot}
}

func (c *Condition) addr() uintptr { return addrOf(c) }

// Wait releases unlock (called with no locks held, just before parking),
// blocks until notified or deadline passes, and reports whether it woke
// due to a notify rather than a timeout. The caller is responsible for
// reacquiring whatever unlock released; Condition itself holds no lock.
func (c *Condition) Wait(unlock func(), deadline time.Time) bool {
	res := c.lot.Park(c.addr(), func() bool {
		c.hasWaiters.Store(true)
		return true
	}, unlock, deadline)
	return res.Unparked && !res.TimedOut
}

// NotifyOne wakes one waiter, reporting whether there was one.
func (c *Condition) NotifyOne() bool {
	if !c.hasWaiters.Load() {
		return false
	}
	didNotify := false
	c.lot.UnparkOne(c.addr(), func(info parkinglot.UnparkInfo) any {
		if !info.HaveMoreThreads {
			c.hasWaiters.Store(false)
		}
		didNotify = true
		return nil
	})
	return didNotify
}

// NotifyAll wakes every waiter.
func (c *Condition) NotifyAll() {
	if !c.hasWaiters.Load() {
		return
	}
	c.hasWaiters.Store(false)
	c.lot.UnparkAll(c.addr())
}
