// Package pagevector implements the bounded, insertion-ordered container
// of owned page handles that backs one log fragment or metadata buffer.
// A vector exclusively owns every handle in its occupied slots until the
// handle is removed or the vector is released.
//
// A vector is not internally synchronized: it is owned by exactly one
// execution context at a time and concurrent mutation is a caller error.
package pagevector

import (
	"errors"
	"fmt"

	pagemanager "github.com/sushant-115/flashfs/core/memory_engine/page_manager"
	"go.uber.org/zap"
)

// MaxCapacity is the largest slot count a vector may be created with; the
// occupancy has to stay representable in 8 bits.
const MaxCapacity = 255

var (
	ErrNilManager       = errors.New("page vector requires a page manager")
	ErrNilPage          = errors.New("nil page handle")
	ErrInvalidCapacity  = errors.New("page vector capacity must be within 1..255")
	ErrCapacityExceeded = errors.New("page vector has no space")
	ErrIndexOutOfRange  = errors.New("page index beyond occupied slots")
	ErrEmptySlot        = errors.New("page slot is empty")
	ErrDestroyed        = errors.New("page vector already destroyed")
)

// Vector holds up to capacity owned page handles. Slots [0, count) are
// occupied (a removed non-tail slot leaves a nil hole); slots
// [count, capacity) are unused.
type Vector struct {
	count    uint8
	capacity uint8
	slots    []*pagemanager.Page

	mgr *pagemanager.Manager
	log *zap.Logger
}

// New creates a vector with the given fixed capacity. The slot array is
// allocated once and accounted as a raw memory block.
func New(mgr *pagemanager.Manager, capacity int, logger *zap.Logger) (*Vector, error) {
	if mgr == nil {
		return nil, ErrNilManager
	}
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Vector{
		capacity: uint8(capacity),
		slots:    make([]*pagemanager.Page, capacity),
		mgr:      mgr,
		log:      logger.Named("pagevec"),
	}
	mgr.AccountMemoryBlock()

	v.log.Debug("page vector created", zap.Int("capacity", capacity))
	return v, nil
}

// Init resets the occupancy to zero without touching slot contents. The
// caller must have released the previous contents first; any handle still
// sitting in a slot leaks.
func (v *Vector) Init() error {
	if v.slots == nil {
		return ErrDestroyed
	}
	v.count = 0
	return nil
}

// Reinit resets the occupancy and additionally nils every slot, for reuse
// when the slots are known to no longer reference live handles.
func (v *Vector) Reinit() error {
	if v.slots == nil {
		return ErrDestroyed
	}
	v.count = 0
	clear(v.slots)
	return nil
}

// Count returns the current occupancy.
func (v *Vector) Count() uint32 { return uint32(v.count) }

// Space returns how many more handles the vector can take.
func (v *Vector) Space() uint32 { return uint32(v.capacity) - uint32(v.count) }

// Capacity returns the fixed slot count.
func (v *Vector) Capacity() uint32 { return uint32(v.capacity) }

// AllocatePage acquires a fresh page and adds it to the vector, returning
// the added handle. The vector owns the page; the returned handle is a
// borrow for immediate population. A page never escapes on failure: if
// the add cannot happen the freshly acquired page is freed first.
func (v *Vector) AllocatePage() (*pagemanager.Page, error) {
	if v.slots == nil {
		return nil, ErrDestroyed
	}
	if v.Space() == 0 {
		v.log.Error("page vector has no space",
			zap.Uint32("count", v.Count()),
			zap.Uint32("capacity", v.Capacity()))
		return nil, ErrCapacityExceeded
	}

	p, err := v.mgr.AcquirePage()
	if err != nil {
		return nil, fmt.Errorf("fail to allocate vector page: %w", err)
	}

	if err := v.Add(p); err != nil {
		v.mgr.FreePage(p)
		return nil, err
	}
	return p, nil
}

// Add takes ownership of the handle, appending it at the count slot. On
// failure ownership stays with the caller.
func (v *Vector) Add(p *pagemanager.Page) error {
	if v.slots == nil {
		return ErrDestroyed
	}
	if p == nil {
		return ErrNilPage
	}
	if v.count >= v.capacity {
		v.log.Error("page vector has no space",
			zap.Uint32("count", v.Count()),
			zap.Uint32("capacity", v.Capacity()))
		return ErrCapacityExceeded
	}

	v.slots[v.count] = p
	v.count++

	v.log.Debug("page added", zap.Uint32("count", v.Count()))
	return nil
}

// Remove transfers ownership of the handle at index to the caller. Only a
// tail removal shrinks the occupancy; removing an inner slot leaves a nil
// hole inside [0, count) that the caller has to track. Whether callers
// may remove anywhere but the tail is deliberately left to them; the slot
// layout is compaction-free either way.
func (v *Vector) Remove(index uint32) (*pagemanager.Page, error) {
	if v.slots == nil {
		return nil, ErrDestroyed
	}
	if index >= v.Count() {
		return nil, fmt.Errorf("%w: index %d, count %d",
			ErrIndexOutOfRange, index, v.Count())
	}

	p := v.slots[index]
	if p == nil {
		return nil, fmt.Errorf("%w: index %d", ErrEmptySlot, index)
	}

	v.slots[index] = nil
	if index == v.Count()-1 {
		v.count--
	}

	v.log.Debug("page removed",
		zap.Uint32("index", index),
		zap.Uint32("count", v.Count()))
	return p, nil
}

// Release frees every owned handle and resets the occupancy. Idempotent;
// individual free violations are diagnostics, never failures.
func (v *Vector) Release() {
	if v.slots == nil {
		return
	}

	for i := uint32(0); i < v.Count(); i++ {
		p := v.slots[i]
		if p == nil {
			continue
		}
		v.mgr.FreePage(p)
		v.slots[i] = nil
	}
	v.count = 0

	v.log.Debug("page vector released")
}

// Destroy releases any remaining contents and drops the slot array. The
// vector is unusable afterwards.
func (v *Vector) Destroy() {
	if v.slots == nil {
		return
	}

	v.Release()
	v.slots = nil
	v.mgr.ForgetMemoryBlock()

	v.log.Debug("page vector destroyed")
}
