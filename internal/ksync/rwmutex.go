package ksync

import (
	"sync/atomic"

	"github.com/TomatOrg/TomatOS-sub001/internal/parkinglot"
	"github.com/TomatOrg/TomatOS-sub001/internal/timer"
)

const rwmutexMaxReaders = 1 << 30

// RWMutex is the writer-preferring reader/writer lock: a reader count, a
// serializing mutex for writers, and two semaphores used to park blocked
// readers and a blocked writer respectively. Grounded on
// original_source/kernel/sync/rwmutex.c (again the Go-runtime design, as
// the license header there credits).
type RWMutex struct {
	writerMu   *Mutex
	readerSema *Semaphore
	writerSema *Semaphore

	readerCount atomic.Int32
	readerWait  atomic.Int32
}

// NewRWMutex returns an unlocked RWMutex parking through lot.
func NewRWMutex(lot *parkinglot.Lot, clock *timer.Clock) *RWMutex {
	return &RWMutex{
		writerMu:   NewMutex(lot, clock),
		readerSema: NewSemaphore(lot),
		writerSema: NewSemaphore(lot),
	}
}

// RLock acquires a read lock, blocking only if a writer is pending.
func (rw *RWMutex) RLock() {
	if rw.readerCount.Add(1) < 0 {
		rw.readerSema.Acquire()
	}
}

// RUnlock releases a read lock.
func (rw *RWMutex) RUnlock() {
	if r := rw.readerCount.Add(-1); r < 0 {
		rw.runlockSlow(r)
	}
}

func (rw *RWMutex) runlockSlow(r int32) {
	if r+1 == 0 || r+1 == -rwmutexMaxReaders {
		panic("ksync: RUnlock of unlocked RWMutex")
	}
	if rw.readerWait.Add(-1) == 0 {
		rw.writerSema.Release()
	}
}

// Lock acquires the write lock, first excluding other writers, then
// draining active readers.
func (rw *RWMutex) Lock() {
	rw.writerMu.Lock()
	r := rw.readerCount.Add(-rwmutexMaxReaders) + rwmutexMaxReaders
	if r != 0 && rw.readerWait.Add(r) != 0 {
		rw.writerSema.Acquire()
	}
}

// Unlock releases the write lock, admitting any readers that queued behind
// it and then any other writer.
func (rw *RWMutex) Unlock() {
	r := rw.readerCount.Add(rwmutexMaxReaders)
	if r >= rwmutexMaxReaders {
		panic("ksync: Unlock of unlocked RWMutex")
	}
	for i := int32(0); i < r; i++ {
		rw.readerSema.Release()
	}
	rw.writerMu.Unlock()
}
