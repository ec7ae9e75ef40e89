package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultHotThreshold is the call count at which a function is reported
// hot exactly once.
const DefaultHotThreshold = 1000

// Profiler counts user-function calls and fires a one-shot hook when a
// function crosses the hot threshold. Compilation of hot functions is an
// external concern; the profiler only instruments.
type Profiler struct {
	threshold uint64

	mu     sync.Mutex
	counts map[string]*atomic.Uint64
	fired  map[string]bool

	// OnHot, when set, runs synchronously on the calling goroutine the
	// first time a function crosses the threshold.
	OnHot func(qualname string, count uint64)
}

// NewProfiler creates a profiler with the given hot threshold.
func NewProfiler(threshold uint64) *Profiler {
	return &Profiler{
		threshold: threshold,
		counts:    make(map[string]*atomic.Uint64),
		fired:     make(map[string]bool),
	}
}

// RecordCall bumps a function's call count. Returns true exactly once:
// when the count reaches the threshold.
func (p *Profiler) RecordCall(qualname string) bool {
	p.mu.Lock()
	c, ok := p.counts[qualname]
	if !ok {
		c = &atomic.Uint64{}
		p.counts[qualname] = c
	}
	p.mu.Unlock()

	n := c.Add(1)
	if n != p.threshold {
		return false
	}

	p.mu.Lock()
	already := p.fired[qualname]
	p.fired[qualname] = true
	p.mu.Unlock()
	if already {
		return false
	}
	if p.OnHot != nil {
		p.OnHot(qualname, n)
	}
	return true
}

// Count returns a function's current call count.
func (p *Profiler) Count(qualname string) uint64 {
	p.mu.Lock()
	c, ok := p.counts[qualname]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// FunctionCount is one row of a profile report.
type FunctionCount struct {
	Qualname string
	Count    uint64
	Hot      bool
}

// Report lists all recorded functions, busiest first.
func (p *Profiler) Report() []FunctionCount {
	p.mu.Lock()
	out := make([]FunctionCount, 0, len(p.counts))
	for name, c := range p.counts {
		out = append(out, FunctionCount{Qualname: name, Count: c.Load(), Hot: p.fired[name]})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Qualname < out[j].Qualname
	})
	return out
}
