// Package accounting provides the leak-accounting counters for the page
// core: process-wide totals of outstanding raw memory blocks, pages and
// locked pages, plus a parallel triple per named subsystem. The counters
// are pure diagnostics; no correctness decision may ever read them.
package accounting

import (
	"sync"

	"go.uber.org/zap"
)

// Kind selects one of the three counters in a triple.
type Kind int

const (
	KindMemoryBlock Kind = iota
	KindPage
	KindLockedPage
)

func (k Kind) String() string {
	switch k {
	case KindMemoryBlock:
		return "memory_block"
	case KindPage:
		return "page"
	case KindLockedPage:
		return "locked_page"
	default:
		return "unknown"
	}
}

// Tracker is one counter triple. Increment and Decrement are safe for
// concurrent use from any number of goroutines and never block.
type Tracker interface {
	Increment(kind Kind)
	Decrement(kind Kind)
	Value(kind Kind) int64
}

// Counts is a read-only snapshot of one counter triple.
type Counts struct {
	MemoryBlocks int64
	Pages        int64
	LockedPages  int64
}

// Snapshot is a point-in-time view over every counter in the registry.
type Snapshot struct {
	Global     Counts
	Subsystems map[string]Counts
}

// Registry owns the global counter triple and one triple per registered
// subsystem. A disabled registry hands out no-op trackers so callers
// behave identically whether or not accounting is compiled in.
type Registry struct {
	log     *zap.Logger
	enabled bool

	global counters

	mu         sync.RWMutex
	subsystems map[string]*counters
}

// NewRegistry creates a registry. When enabled is false every tracker it
// returns is a no-op and Snapshot reports zeros.
func NewRegistry(logger *zap.Logger, enabled bool) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		log:        logger.Named("accounting"),
		enabled:    enabled,
		subsystems: make(map[string]*counters),
	}
}

// Enabled reports whether the registry actually counts anything.
func (r *Registry) Enabled() bool { return r.enabled }

// Global returns the process-wide tracker.
func (r *Registry) Global() Tracker {
	if !r.enabled {
		return nopTracker{}
	}
	return &tracker{log: r.log, name: "global", c: &r.global}
}

// Subsystem returns the tracker attributed to the named subsystem,
// registering the subsystem on first use.
func (r *Registry) Subsystem(name string) Tracker {
	if !r.enabled {
		return nopTracker{}
	}

	r.mu.RLock()
	c, ok := r.subsystems[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if c, ok = r.subsystems[name]; !ok {
			c = &counters{}
			r.subsystems[name] = c
		}
		r.mu.Unlock()
	}

	return &tracker{log: r.log, name: name, c: c}
}

// Snapshot copies every counter value for diagnostic tooling.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Subsystems: make(map[string]Counts)}
	if !r.enabled {
		return snap
	}

	snap.Global = r.global.counts()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, c := range r.subsystems {
		snap.Subsystems[name] = c.counts()
	}
	return snap
}
