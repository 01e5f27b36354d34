package ksync

import (
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// Semaphore is a counting semaphore parked directly on the parking lot
// keyed by the semaphore's own address, rather than the
// value+mutex+condvar composition original_source/kernel/sync/semaphore.h
// builds on top of mutex_t/condvar_t — its callers in this package
// (Mutex's slow path, RWMutex, WaitGroup) need exactly acquire/release, and going straight
// through the parking lot avoids building a condvar this package doesn't
// otherwise need for that.
type Semaphore struct {
	lot   *parkinglot.Lot
	value int64
	mu    TicketLock
}

// NewSemaphore returns a zero-valued Semaphore parking through lot.
func NewSemaphore(lot *parkinglot.Lot) *Semaphore {
	return &Semaphore{lot: lot}
}

func (s *Semaphore) addr() uintptr { return addrOf(s) }

// tryTake consumes one unit if available.
func (s *Semaphore) tryTake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Acquire blocks until the semaphore's value is positive, then consumes
// one unit. Every wakeup re-validates and re-attempts the take, so a
// Release racing multiple waiters never hands out more units than it
// actually added.
func (s *Semaphore) Acquire() {
	for {
		if s.tryTake() {
			return
		}
		res := s.lot.Park(s.addr(), func() bool { return !s.tryTake() }, nil, time.Time{})
		if !res.Unparked {
			// validate's tryTake succeeded inline; the unit is already ours.
			return
		}
		// Actually parked and woken by a Release; retry the take.
	}
}

// Release adds one unit and wakes a single waiter if any is parked.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.value++
	s.mu.Unlock()
	s.lot.UnparkOne(s.addr(), nil)
}

// WaitUntil blocks until the value is positive or deadline passes,
// reporting whether a unit was acquired.
func (s *Semaphore) WaitUntil(deadline time.Time) bool {
	for {
		if s.tryTake() {
			return true
		}
		res := s.lot.Park(s.addr(), func() bool { return !s.tryTake() }, nil, deadline)
		if !res.Unparked {
			return true // validate's tryTake succeeded inline
		}
		if res.TimedOut {
			return false
		}
		// Otherwise woken by a Release; loop and retry the take.
	}
}

// Reset forces the semaphore's value to zero without waking anyone,
// mirroring semaphore_reset.
func (s *Semaphore) Reset() {
	s.mu.Lock()
	s.value = 0
	s.mu.Unlock()
}
