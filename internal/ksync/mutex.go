package ksync

import (
	"sync/atomic"
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
	"github.com/TomatOrg/TomatOS-sub001/internal/timer"
)

const (
	mutexLocked int32 = 1 << iota
	mutexWoken
	mutexStarving
)

const mutexWaiterShift = 3

// starvationThreshold is the 1ms cutoff past which a waiter flips the
// mutex into starvation mode, per STARVATION_THRESHOLD_US.
const starvationThreshold = 1000 * time.Microsecond

const maxActiveSpin = 4

// Mutex is the Go-runtime-style fair mutex: a packed
// LOCKED|WOKEN|STARVING|waiter_count word plus a semaphore for the slow
// path. Grounded on original_source/kernel/sync/mutex.c, itself lifted
// from runtime/sema.go's normal/starvation mode design. Uncontended
// lock/unlock is one CAS / one subtract; the starvation switch guarantees
// FIFO fairness once a waiter has been stuck past starvationThreshold,
// trading throughput for bounded latency the way the source's comment
// explains.
type Mutex struct {
	state atomic.Int32
	sema  *Semaphore
	clock *timer.Clock
	lot   *parkinglot.Lot

	// parked is set by Condvar.Notify{One,All} when it requeues a waiter
	// directly onto this mutex's own parking-lot key instead of the
	// semaphore's, mirroring MUTEX_PARKED in condvar.c. Unlock must then
	// wake that waiter on top of its normal semaphore release, since the
	// requeued waiter is asleep on a key nothing else drains.
	parked atomic.Bool
}

// NewMutex returns an unlocked Mutex parking through lot with clock driving
// the starvation-threshold measurement.
func NewMutex(lot *parkinglot.Lot, clock *timer.Clock) *Mutex {
	return &Mutex{sema: NewSemaphore(lot), clock: clock, lot: lot}
}

func (m *Mutex) addr() uintptr { return addrOf(m) }

// markParkedIfLocked sets the parked flag iff the mutex is currently held,
// reporting whether it did. Grounded on mutex_mark_parked_if_locked: racy
// against a concurrent Unlock by design (see condvar.c's own comment) —
// the cost of losing the race is an extra, harmless wake check on the next
// Unlock, never a missed wakeup, since Condvar always requeues the waiter
// before this returns.
func (m *Mutex) markParkedIfLocked() bool {
	if m.state.Load()&mutexLocked == 0 {
		return false
	}
	m.parked.Store(true)
	return true
}

// markParked unconditionally flags a requeued waiter is pending on this
// mutex's own key, for the case where NotifyAll requeued waiters behind a
// mutex that happened to be free the instant of the check.
func (m *Mutex) markParked() { m.parked.Store(true) }

func (m *Mutex) microtime() int64 {
	if m.clock == nil {
		return 0
	}
	return int64(m.clock.MicroTime())
}

// Lock acquires the mutex, falling back to the slow path on contention.
func (m *Mutex) Lock() {
	if m.state.CompareAndSwap(0, mutexLocked) {
		return
	}
	m.lockSlow()
}

func (m *Mutex) canSpin(iter int) bool {
	return iter < maxActiveSpin
}

func (m *Mutex) lockSlow() {
	var waitStartTime int64
	starving := false
	awoke := false
	iter := 0
	old := m.state.Load()
	for {
		if old&(mutexLocked|mutexStarving) == mutexLocked && m.canSpin(iter) {
			if !awoke && old&mutexWoken == 0 && old>>mutexWaiterShift != 0 &&
				m.state.CompareAndSwap(old, old|mutexWoken) {
				awoke = true
			}
			for i := 0; i < 30; i++ {
				procyield()
			}
			iter++
			old = m.state.Load()
			continue
		}

		newState := old
		if old&mutexStarving == 0 {
			newState |= mutexLocked
		}
		if old&(mutexLocked|mutexStarving) != 0 {
			newState += 1 << mutexWaiterShift
		}
		if starving && old&mutexLocked != 0 {
			newState |= mutexStarving
		}
		if awoke {
			newState &^= mutexWoken
		}

		if m.state.CompareAndSwap(old, newState) {
			if old&(mutexLocked|mutexStarving) == 0 {
				return
			}

			queueLIFO := waitStartTime != 0
			if waitStartTime == 0 {
				waitStartTime = m.microtime()
			}
			m.acquireSema(queueLIFO)
			starving = starving || m.microtime()-waitStartTime > int64(starvationThreshold/time.Microsecond)
			old = m.state.Load()
			if old&mutexStarving != 0 {
				delta := mutexLocked - (1 << mutexWaiterShift)
				if !starving || old>>mutexWaiterShift == 1 {
					delta -= mutexStarving
				}
				m.state.Add(delta)
				return
			}
			awoke = true
			iter = 0
			old = m.state.Load()
			continue
		}
		old = m.state.Load()
	}
}

// acquireSema is the only place Mutex distinguishes LIFO (re-queued waiter)
// acquire from a fresh one; Semaphore itself has no notion of queue
// ordering, so both paths simply acquire and the fairness guarantee comes
// entirely from the starvation-mode handoff above.
func (m *Mutex) acquireSema(lifo bool) {
	_ = lifo
	m.sema.Acquire()
}

// TryLock attempts to take the mutex without blocking.
func (m *Mutex) TryLock() bool {
	old := m.state.Load()
	if old&(mutexLocked|mutexStarving) != 0 {
		return false
	}
	return m.state.CompareAndSwap(old, old|mutexLocked)
}

// Unlock releases the mutex, waking a waiter if the slow path needs to.
// Also drains one Condvar-requeued waiter parked directly on this mutex's
// own key, regardless of which path the ordinary release took. When more
// than one waiter was requeued there, each one's own later Unlock call
// (after it reacquires the mutex and finishes its critical section) drains
// the next, chaining exactly one UnparkOne per Unlock until
// HaveMoreThreads comes back false — a single boolean cannot represent an
// arbitrary queue depth, so the flag is re-armed from that callback rather
// than cleared unconditionally up front.
func (m *Mutex) Unlock() {
	newState := m.state.Add(-mutexLocked)
	if newState != 0 {
		m.unlockSlow(newState)
	}
	if m.parked.Load() {
		m.lot.UnparkOne(m.addr(), func(info parkinglot.UnparkInfo) any {
			if !info.HaveMoreThreads {
				m.parked.Store(false)
			}
			return nil
		})
	}
}

func (m *Mutex) unlockSlow(newState int32) {
	if newState&mutexStarving == 0 {
		old := newState
		for {
			if old>>mutexWaiterShift == 0 || old&(mutexLocked|mutexWoken|mutexStarving) != 0 {
				return
			}
			newState := (old - (1 << mutexWaiterShift)) | mutexWoken
			if m.state.CompareAndSwap(old, newState) {
				m.sema.Release()
				return
			}
			old = m.state.Load()
		}
	}
	m.sema.Release()
}
