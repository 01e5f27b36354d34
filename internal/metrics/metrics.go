// Package metrics provides a pluggable event sink for the allocator,
// scheduler and parking-lot layers, grounded on the teacher's profhw_i /
// nilprof_t / intelprof_t pattern (biscuit main.go): a small interface with
// a no-op default, so instrumentation is opt-in and free when absent. Where
// the teacher counted hardware performance-monitoring-counter events, this
// sink counts allocator/scheduler/park events, since there are no real PMCs
// to read in a hosted process.
package metrics

// Sink receives kernel substrate events. Implementations must be safe for
// concurrent use; the default NopSink does nothing and costs one interface
// call.
type Sink interface {
	IncAllocs(component string)
	IncFrees(component string)
	IncFailures(component string)
	IncParks()
	IncUnparks()
	IncPreemptions()
	IncSteals(weight uint32)
}

type nopSink struct{}

func (nopSink) IncAllocs(string)   {}
func (nopSink) IncFrees(string)    {}
func (nopSink) IncFailures(string) {}
func (nopSink) IncParks()          {}
func (nopSink) IncUnparks()        {}
func (nopSink) IncPreemptions()    {}
func (nopSink) IncSteals(uint32)   {}

// NopSink is the zero-cost default, analogous to the teacher's nilprof_t.
var NopSink Sink = nopSink{}
