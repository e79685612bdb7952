package accounting

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// counters is one triple of atomic counters.
type counters struct {
	memoryBlocks atomic.Int64
	pages        atomic.Int64
	lockedPages  atomic.Int64
}

func (c *counters) forKind(kind Kind) *atomic.Int64 {
	switch kind {
	case KindMemoryBlock:
		return &c.memoryBlocks
	case KindPage:
		return &c.pages
	case KindLockedPage:
		return &c.lockedPages
	default:
		return nil
	}
}

func (c *counters) counts() Counts {
	return Counts{
		MemoryBlocks: c.memoryBlocks.Load(),
		Pages:        c.pages.Load(),
		LockedPages:  c.lockedPages.Load(),
	}
}

type tracker struct {
	log  *zap.Logger
	name string
	c    *counters
}

func (t *tracker) Increment(kind Kind) {
	ctr := t.c.forKind(kind)
	if ctr == nil {
		t.log.Warn("increment of unknown counter kind",
			zap.Int("kind", int(kind)),
			zap.String("subsystem", t.name))
		return
	}
	ctr.Add(1)
}

// Decrement always performs the decrement; a value that goes negative is
// reported and kept, since the interesting fact is the double-free that
// caused it, not the counter's literal value.
func (t *tracker) Decrement(kind Kind) {
	ctr := t.c.forKind(kind)
	if ctr == nil {
		t.log.Warn("decrement of unknown counter kind",
			zap.Int("kind", int(kind)),
			zap.String("subsystem", t.name))
		return
	}
	if v := ctr.Add(-1); v < 0 {
		t.log.Warn("accounting counter went negative",
			zap.Stringer("kind", kind),
			zap.String("subsystem", t.name),
			zap.Int64("value", v))
	}
}

func (t *tracker) Value(kind Kind) int64 {
	ctr := t.c.forKind(kind)
	if ctr == nil {
		return 0
	}
	return ctr.Load()
}

// nopTracker backs a disabled registry.
type nopTracker struct{}

func (nopTracker) Increment(Kind)   {}
func (nopTracker) Decrement(Kind)   {}
func (nopTracker) Value(Kind) int64 { return 0 }
