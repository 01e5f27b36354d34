package metrics

import "sync"

// CountingSink is a concrete Sink that accumulates counters in memory,
// playing the role the teacher's intelprof_t plays for real PMCs: a
// queryable, lock-protected set of counters that cmd/kernelctl can snapshot.
type CountingSink struct {
	mu           sync.Mutex
	allocs       map[string]uint64
	frees        map[string]uint64
	failures     map[string]uint64
	parks        uint64
	unparks      uint64
	preemptions  uint64
	stolenWeight uint64
}

// NewCountingSink returns an empty CountingSink.
func NewCountingSink() *CountingSink {
	return &CountingSink{
		allocs:   make(map[string]uint64),
		frees:    make(map[string]uint64),
		failures: make(map[string]uint64),
	}
}

func (s *CountingSink) IncAllocs(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocs[component]++
}

func (s *CountingSink) IncFrees(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frees[component]++
}

func (s *CountingSink) IncFailures(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[component]++
}

func (s *CountingSink) IncParks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parks++
}

func (s *CountingSink) IncUnparks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unparks++
}

func (s *CountingSink) IncPreemptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preemptions++
}

func (s *CountingSink) IncSteals(weight uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stolenWeight += uint64(weight)
}

// Snapshot is a point-in-time copy of every counter, safe to read after the
// CountingSink keeps mutating.
type Snapshot struct {
	Allocs       map[string]uint64
	Frees        map[string]uint64
	Failures     map[string]uint64
	Parks        uint64
	Unparks      uint64
	Preemptions  uint64
	StolenWeight uint64
}

func (s *CountingSink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := func(m map[string]uint64) map[string]uint64 {
		out := make(map[string]uint64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return Snapshot{
		Allocs:       cp(s.allocs),
		Frees:        cp(s.frees),
		Failures:     cp(s.failures),
		Parks:        s.parks,
		Unparks:      s.unparks,
		Preemptions:  s.preemptions,
		StolenWeight: s.stolenWeight,
	}
}
