// Package pagemanager implements the page handle lifecycle: acquiring
// zero-filled fixed-size pages, reference counting, the binary page lock
// and the release path, with every step feeding the leak accounting.
package pagemanager

import (
	"fmt"
	"time"

	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	pagealloc "github.com/sushant-115/flashfs/core/memory_engine/page_alloc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SlowLockThreshold is how long a lock wait may run before it is worth a
// diagnostic. Purely a logging knob, never a correctness bound.
const SlowLockThreshold = time.Second

// Manager acquires and frees page handles. A manager carries the
// accounting attribution for every page that passes through it; derive a
// per-subsystem manager with ForSubsystem to attribute pages to a named
// caller the way each filesystem component owns its own leak counters.
type Manager struct {
	alloc  *pagealloc.Allocator
	global accounting.Tracker
	scoped accounting.Tracker
	reg    *accounting.Registry
	log    *zap.Logger

	slowLockWarn *rate.Limiter
}

// NewManager creates the root manager, attributed to the global counters
// only. registry may be nil, in which case accounting is disabled.
func NewManager(alloc *pagealloc.Allocator, registry *accounting.Registry, logger *zap.Logger) (*Manager, error) {
	if alloc == nil {
		return nil, fmt.Errorf("page manager requires an allocator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = accounting.NewRegistry(nil, false)
	}

	return &Manager{
		alloc:  alloc,
		global: registry.Global(),
		scoped: nil,
		reg:    registry,
		log:    logger.Named("pagemgr"),
		// One slow-wait report per second is plenty; a stuck holder
		// would otherwise flood the sink from every waiter.
		slowLockWarn: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// ForSubsystem derives a manager whose pages are attributed to the named
// subsystem's counter triple in addition to the global one.
func (m *Manager) ForSubsystem(name string) *Manager {
	derived := *m
	derived.scoped = m.reg.Subsystem(name)
	derived.log = m.log.Named(name)
	return &derived
}

// Allocator returns the underlying frame allocator.
func (m *Manager) Allocator() *pagealloc.Allocator { return m.alloc }

func (m *Manager) account(kind accounting.Kind) {
	m.global.Increment(kind)
	if m.scoped != nil {
		m.scoped.Increment(kind)
	}
}

func (m *Manager) discount(kind accounting.Kind) {
	m.global.Decrement(kind)
	if m.scoped != nil {
		m.scoped.Decrement(kind)
	}
}

// AcquirePage allocates one zero-filled page with reference count 1. On
// allocator exhaustion the error is returned with no counter touched.
func (m *Manager) AcquirePage() (*Page, error) {
	frame, err := m.alloc.AllocZeroed()
	if err != nil {
		return nil, fmt.Errorf("unable to allocate memory page: %w", err)
	}

	p := &Page{
		data: frame,
		lock: make(chan struct{}, 1),
		mgr:  m,
	}
	p.refCount.Store(1)
	m.account(accounting.KindPage)

	m.log.Debug("page acquired",
		zap.Int64("count", p.RefCount()),
		zap.Int64("outstanding", m.alloc.Outstanding()))
	return p, nil
}

// FreePage returns a page's frame to the allocator. The page must be
// unlocked and hold exactly one final reference; violations are reported
// but the free still proceeds, so a bookkeeping bug cannot pin memory.
func (m *Manager) FreePage(p *Page) {
	if p == nil {
		return
	}

	if p.IsLocked() {
		m.log.Warn("freeing page that is still locked",
			zap.Uint64("owner", uint64(p.owner)),
			zap.Uint64("index", p.index))
	}

	if n := p.refCount.Load(); n != 1 {
		m.log.Warn("freeing page with unexpected reference count",
			zap.Int64("count", n),
			zap.Uint64("owner", uint64(p.owner)),
			zap.Uint64("index", p.index))
	}
	p.refCount.Store(0)

	m.discount(accounting.KindPage)
	m.alloc.Free(p.data)
	p.data = nil

	m.log.Debug("page freed",
		zap.Int64("outstanding", m.alloc.Outstanding()))
}

// AccountPage adopts the subsystem attribution for a page acquired
// through a different manager, for when ownership crosses subsystems.
func (m *Manager) AccountPage(p *Page) {
	if p == nil || m.scoped == nil {
		return
	}
	m.scoped.Increment(accounting.KindPage)
	p.mgr = m
}

// ForgetPage drops this manager's subsystem attribution for a page whose
// ownership is moving elsewhere. The global count is untouched; the page
// is still outstanding, just owned by someone else.
func (m *Manager) ForgetPage(p *Page) {
	if p == nil || m.scoped == nil {
		return
	}
	m.scoped.Decrement(accounting.KindPage)
}

// AccountMemoryBlock records one raw memory block (vector slot arrays and
// the like) against this manager's attribution.
func (m *Manager) AccountMemoryBlock() {
	m.account(accounting.KindMemoryBlock)
}

// ForgetMemoryBlock releases the accounting taken by AccountMemoryBlock.
func (m *Manager) ForgetMemoryBlock() {
	m.discount(accounting.KindMemoryBlock)
}
