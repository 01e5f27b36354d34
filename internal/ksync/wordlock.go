package ksync

import (
	"sync/atomic"
	"time"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
)

// WordLock is a single-word exclusive lock: the fast path is one CAS, the
// slow path parks on the lock's own address. Grounded on
// original_source/kernel/sync/word_lock.h, minus the intrusive queue
// pointer it packs into the same word — the parking lot already owns a
// FIFO queue per key, so the "locked" bit is all this type needs to track.
type WordLock struct {
	locked atomic.Bool
	lot    *parkinglot.Lot
}

// NewWordLock returns an unlocked WordLock parking through lot.
func NewWordLock(lot *parkinglot.Lot) *WordLock {
	return &WordLock{lot: lot}
}

func (w *WordLock) addr() uintptr { return addrOf(w) }

// Lock acquires the lock, parking the caller if it is already held.
func (w *WordLock) Lock() {
	if w.locked.CompareAndSwap(false, true) {
		return
	}
	w.lockSlow()
}

func (w *WordLock) lockSlow() {
	var spin SpinWait
	for {
		for spin.Spin() {
			if w.locked.CompareAndSwap(false, true) {
				return
			}
		}
		w.lot.Park(w.addr(), func() bool {
			return w.locked.Load()
		}, nil, time.Time{})
		if w.locked.CompareAndSwap(false, true) {
			return
		}
	}
}

// Unlock releases the lock and wakes one queued waiter, if any.
func (w *WordLock) Unlock() {
	w.locked.Store(false)
	w.lot.UnparkOne(w.addr(), nil)
}
