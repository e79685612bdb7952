// Package pagealloc provides the fixed-size page frame allocator backing
// the page core. Freed frames are pooled and reused; an optional bound on
// outstanding frames models allocator exhaustion.
package pagealloc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	"go.uber.org/zap"
)

// DefaultPageSize matches the memory page granularity the filesystem
// layers above assume.
const DefaultPageSize = 4096

var (
	ErrOutOfMemory      = errors.New("page allocator exhausted")
	ErrInvalidPageSize  = errors.New("page size must be positive")
	ErrInvalidBlockSize = errors.New("block size must be positive")
)

// Allocator hands out zero-filled page frames of a single fixed size.
// It is safe for concurrent use.
type Allocator struct {
	pageSize int
	maxPages int64 // 0 means unbounded
	log      *zap.Logger
	tracker  accounting.Tracker

	pool        sync.Pool
	outstanding atomic.Int64
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxPages bounds the number of outstanding frames. Once the bound is
// reached AllocZeroed fails with ErrOutOfMemory until frames are freed.
func WithMaxPages(n int64) Option {
	return func(a *Allocator) { a.maxPages = n }
}

// New creates an allocator for frames of pageSize bytes. The tracker
// receives memory-block accounting for raw (non-page) allocations made
// through AllocBlock.
func New(pageSize int, tracker accounting.Tracker, logger *zap.Logger, opts ...Option) (*Allocator, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = accounting.NewRegistry(nil, false).Global()
	}

	a := &Allocator{
		pageSize: pageSize,
		log:      logger.Named("pagealloc"),
		tracker:  tracker,
	}
	a.pool.New = func() any {
		buf := make([]byte, pageSize)
		return &buf
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// PageSize returns the fixed frame size.
func (a *Allocator) PageSize() int { return a.pageSize }

// Outstanding returns the number of frames currently handed out.
func (a *Allocator) Outstanding() int64 { return a.outstanding.Load() }

// AllocZeroed returns a zero-filled frame, or ErrOutOfMemory when the
// outstanding bound is reached. No counter is touched on failure.
func (a *Allocator) AllocZeroed() ([]byte, error) {
	if a.maxPages > 0 {
		for {
			n := a.outstanding.Load()
			if n >= a.maxPages {
				a.log.Error("unable to allocate memory page",
					zap.Int64("outstanding", n),
					zap.Int64("max_pages", a.maxPages))
				return nil, fmt.Errorf("%w: %d pages outstanding", ErrOutOfMemory, n)
			}
			if a.outstanding.CompareAndSwap(n, n+1) {
				break
			}
		}
	} else {
		a.outstanding.Add(1)
	}

	frame := *a.pool.Get().(*[]byte)
	a.log.Debug("page frame allocated",
		zap.Int64("outstanding", a.outstanding.Load()))
	return frame, nil
}

// Free clears the frame and returns it to the pool. Frames of a foreign
// size are rejected, since pooling them would hand out short reads later.
func (a *Allocator) Free(frame []byte) {
	if frame == nil {
		return
	}
	if len(frame) != a.pageSize {
		a.log.Warn("freeing frame of unexpected size",
			zap.Int("size", len(frame)),
			zap.Int("page_size", a.pageSize))
		return
	}

	clear(frame)
	a.pool.Put(&frame)
	a.outstanding.Add(-1)
	a.log.Debug("page frame freed",
		zap.Int64("outstanding", a.outstanding.Load()))
}

// AllocBlock allocates a raw zero-filled byte block outside the page
// granularity (scratch buffers, on-stack style staging areas) and counts
// it as an outstanding memory block.
func (a *Allocator) AllocBlock(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, size)
	}
	block := make([]byte, size)
	a.tracker.Increment(accounting.KindMemoryBlock)
	return block, nil
}

// FreeBlock releases the accounting for a block obtained via AllocBlock.
func (a *Allocator) FreeBlock(block []byte) {
	if block == nil {
		return
	}
	a.tracker.Decrement(accounting.KindMemoryBlock)
}
