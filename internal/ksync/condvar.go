package ksync

import (
	"sync/atomic"
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// Condvar is a mutex-coupled condition variable: its state is nothing more
// than an atomic pointer to the mutex last used with Wait. Grounded on
// original_source/kernel/sync/condvar.c (the parking_lot crate's Condvar,
// carried into the teacher's sync layer). Notify{One,All} requeue directly
// from the condvar's key to the mutex's key when the mutex is held, so a
// wide notify_all does not send every waiter to race for the mutex at
// once — they requeue asleep and drain one at a time as the mutex unlocks.
// Panics if Wait is called with two different mutexes concurrently.
type Condvar struct {
	lot   *parkinglot.Lot
	mutex atomic.Pointer[Mutex]
}

// NewCondvar returns a Condvar parking through lot.
func NewCondvar(lot *parkinglot.Lot) *Condvar {
	return &Condvar{lot: lot}
}

func (c *Condvar) addr() uintptr { return addrOf(c) }

// Wait releases mutex, sleeps until notified, then reacquires mutex before
// returning. When the wait ends in a panic for mixed-mutex misuse, mutex
// was never released, so the caller still holds it and a deferred Unlock
// in the caller always has something to unlock.
func (c *Condvar) Wait(mutex *Mutex) {
	c.WaitUntil(mutex, time.Time{})
}

// WaitUntil is Wait with a deadline; it reports false on timeout. Unlike
// the source this does not clear the condvar-mutex association on a timed
// out last waiter — the association is only ever a hint telling the next
// Notify which mutex's key to requeue into, and a stale hint is corrected
// the next time Wait runs, so leaving it be trades a little promptness for
// not needing to plumb was-last-thread bookkeeping through Park's timeout
// path.
func (c *Condvar) WaitUntil(mutex *Mutex, deadline time.Time) bool {
	badMutex := false
	res := c.lot.Park(c.addr(), func() bool {
		cur := c.mutex.Load()
		if cur == nil {
			c.mutex.CompareAndSwap(nil, mutex)
			cur = mutex
		}
		if cur != mutex {
			badMutex = true
			return false
		}
		return true
	}, func() {
		mutex.Unlock()
	}, deadline)

	// Check before relocking, not after: on the bad-mutex path the mutex
	// was never unlocked (before_sleep never ran, since validate failed
	// before Park enqueued anything), so relocking it here would deadlock
	// against ourselves. Mirrors condvar_wait_until's own ordering.
	if badMutex {
		panic("ksync: Condvar used with more than one Mutex concurrently")
	}
	mutex.Lock()
	return !res.TimedOut
}

// NotifyOne wakes (or requeues behind the mutex) one waiter, reporting
// whether there was one.
func (c *Condvar) NotifyOne() bool {
	mutex := c.mutex.Load()
	if mutex == nil {
		return false
	}
	didNotify := false
	c.lot.UnparkRequeue(c.addr(), mutex.addr(), func(hasWaiter bool) parkinglot.RequeueDecision {
		if !hasWaiter {
			return parkinglot.RequeueAbort
		}
		if mutex.markParkedIfLocked() {
			return parkinglot.RequeueOne
		}
		return parkinglot.RequeueUnparkOne
	}, func(parkinglot.UnparkInfo) any {
		didNotify = true
		return nil
	})
	return didNotify
}

// NotifyAll wakes (or requeues behind the mutex) every waiter, reporting
// whether there were any.
func (c *Condvar) NotifyAll() bool {
	mutex := c.mutex.Load()
	if mutex == nil {
		return false
	}
	didNotify := false
	requeuedRest := false
	c.lot.UnparkRequeue(c.addr(), mutex.addr(), func(hasWaiter bool) parkinglot.RequeueDecision {
		if !hasWaiter {
			return parkinglot.RequeueAbort
		}
		c.mutex.Store(nil)
		if mutex.markParkedIfLocked() {
			return parkinglot.RequeueAll
		}
		requeuedRest = true
		return parkinglot.RequeueOneRequeueRest
	}, func(parkinglot.UnparkInfo) any {
		didNotify = true
		return nil
	})
	if requeuedRest {
		mutex.markParked()
	}
	return didNotify
}
