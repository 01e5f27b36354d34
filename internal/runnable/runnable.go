// Package runnable is the L3 context-switch primitive: original_source's
// runnable_t held one raw stack pointer and switched between two raw
// register contexts with hand-written assembly. A hosted Go process has no
// stack to save directly, so section 9's re-architecture applies: a
// Runnable is a goroutine paired with two unbuffered channels - resume,
// which the driving CPU signals to let the goroutine run, and parked,
// which the goroutine signals once it yields control back. Switch blocks
// the caller until that round-trip completes, preserving runnable_switch's
// external contract (a plain call in, a plain return out, never two
// Runnables running at once under the same CPU) even though the
// mechanism is channel rendezvous instead of register save/restore.
package runnable

import "sync/atomic"

// State mirrors the thread states the spec's Thread type carries.
type State int32

const (
	Ready State = iota
	Running
	Parked
	Dead
)

// Runnable wraps one cooperatively-scheduled unit of work. The zero value
// is not usable; use New.
type Runnable struct {
	resume chan struct{}
	parked chan struct{}

	fn func(r *Runnable)

	started atomic.Bool
	state   atomic.Int32
	preempt atomic.Int32

	// panicVal carries a panic raised inside fn back across the resume/
	// parked rendezvous. fn runs on its own goroutine, so a raw panic there
	// would crash the process instead of unwinding the driving CPU's
	// worker loop; loop recovers it here and Switch re-raises it on the
	// caller's goroutine, where a per-CPU recover (internal/smp) can catch
	// it as the single-CPU-halts abort the error handling design expects.
	panicVal any
}

// New wraps fn as a Runnable. fn runs on its own goroutine once the
// Runnable is first switched to; it must call Yield to hand control back
// to the driving CPU at every voluntary suspension point, and simply
// returning marks the Runnable Dead.
func New(fn func(r *Runnable)) *Runnable {
	return &Runnable{
		resume: make(chan struct{}),
		parked: make(chan struct{}),
		fn:     fn,
	}
}

func (r *Runnable) loop() {
	<-r.resume
	r.state.Store(int32(Running))
	func() {
		defer func() {
			if v := recover(); v != nil {
				r.panicVal = v
			}
		}()
		r.fn(r)
	}()
	r.state.Store(int32(Dead))
	r.parked <- struct{}{}
}

// Yield suspends the calling goroutine (which must be this Runnable's own)
// until the driving CPU switches back to it, the Go analogue of a
// voluntary park point.
func (r *Runnable) Yield() {
	r.state.Store(int32(Parked))
	r.parked <- struct{}{}
	<-r.resume
	r.state.Store(int32(Running))
}

// State reports the Runnable's current scheduler state.
func (r *Runnable) State() State { return State(r.state.Load()) }

// PreemptDisable/PreemptEnable implement the preempt_disable/enable counter
// from section 5: while the count is nonzero, the EEVDF tick driver must
// not preempt this Runnable.
func (r *Runnable) PreemptDisable()   { r.preempt.Add(1) }
func (r *Runnable) PreemptEnable()    { r.preempt.Add(-1) }
func (r *Runnable) Preemptible() bool { return r.preempt.Load() == 0 }

// Switch hands control to `to`, starting its goroutine on first use
// (runnable_resume) or resuming it where it last yielded (runnable_switch),
// and blocks until `to` parks or finishes. `from` is the Runnable the
// caller is switching away from; it carries no action here since the
// driving CPU - not another Runnable - is always the party blocked inside
// Switch, but the parameter is kept to mirror runnable_switch(from, to)'s
// signature and give callers a place to assert invariants about the
// outgoing context.
func Switch(from, to *Runnable) {
	_ = from
	if !to.started.Swap(true) {
		go to.loop()
	}
	to.state.Store(int32(Ready))
	to.resume <- struct{}{}
	<-to.parked
	if v := to.panicVal; v != nil {
		to.panicVal = nil
		panic(v)
	}
}
