package ksync

import "runtime"

// SpinWait is the word lock's slow-path backoff helper: pause-loop for the
// first 3 spins with a doubling iteration count, then yield to the
// scheduler, giving up (returning false, meaning "park instead") once the
// counter passes 10. Grounded on
// original_source/kernel/sync/spin_wait.h (spin_wait_spin).
type SpinWait struct {
	counter uint32
}

// Reset zeros the spin counter for reuse.
func (s *SpinWait) Reset() { s.counter = 0 }

// Spin performs one backoff step and reports whether the caller should keep
// spinning (false means the caller has exhausted its budget and should fall
// back to parking).
func (s *SpinWait) Spin() bool {
	if s.counter >= 10 {
		return false
	}
	s.counter++
	if s.counter <= 3 {
		iterations := uint32(1) << s.counter
		for i := uint32(0); i < iterations; i++ {
			procyield()
		}
	} else {
		runtime.Gosched()
	}
	return true
}

// procyield stands in for cpu_relax(): there is no portable pause
// instrinsic from Go without assembly, so a scheduler yield plays the same
// role of giving the contended cache line time to settle.
func procyield() { runtime.Gosched() }
