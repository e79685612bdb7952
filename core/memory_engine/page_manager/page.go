package pagemanager

import (
	"sync/atomic"
	"time"

	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	commonutils "github.com/sushant-115/flashfs/internal/common_utils"
	"go.uber.org/zap"
)

// OwnerID identifies the higher-level object (inode, segment, b-tree) a
// page belongs to. It is opaque to the page core and only compared for
// equality when testing mergeability.
type OwnerID uint64

// Page is a handle on one fixed-size memory frame. The reference count is
// safe for concurrent Retain/Release and the lock follows binary mutual
// exclusion semantics; everything else is caller-serialized.
type Page struct {
	data     []byte
	refCount atomic.Int64
	lock     chan struct{}

	// Set when the page carries a block that was never written to flash
	// yet; higher layers use it to pick add-block vs update-block paths.
	newFlag bool

	private    uint64
	hasPrivate bool

	owner OwnerID
	index uint64

	mgr *Manager
}

// Data exposes the page frame. The slice stays valid until FreePage.
func (p *Page) Data() []byte { return p.data }

// RefCount returns the current reference count.
func (p *Page) RefCount() int64 { return p.refCount.Load() }

// Retain takes one more reference on the page.
func (p *Page) Retain() {
	n := p.refCount.Add(1)
	p.mgr.log.Debug("page retained",
		zap.Int64("count", n),
		zap.Int64("gid", commonutils.GoID()))
}

// Release drops one reference without freeing. Dropping below a single
// reference while the page is still owned is a caller bug: the vector is
// assumed to be the one final owner.
func (p *Page) Release() {
	n := p.refCount.Add(-1)
	p.mgr.log.Debug("page released",
		zap.Int64("count", n),
		zap.Int64("gid", commonutils.GoID()))

	if n < 1 {
		p.mgr.log.Warn("page released below single reference",
			zap.Int64("count", n),
			zap.String("caller", commonutils.Caller(1)))
	}
}

// Lock acquires the page's binary lock, waiting for the current holder if
// there is one. A wait longer than SlowLockThreshold is reported, since
// slow lock waits usually mean a holder forgot to unlock.
func (p *Page) Lock() {
	select {
	case p.lock <- struct{}{}:
	default:
		start := time.Now()
		timer := time.NewTimer(SlowLockThreshold)
		select {
		case p.lock <- struct{}{}:
			timer.Stop()
		case <-timer.C:
			if p.mgr.slowLockWarn.Allow() {
				p.mgr.log.Warn("waiting too long for page lock",
					zap.Duration("waited", time.Since(start)),
					zap.Uint64("owner", uint64(p.owner)),
					zap.Uint64("index", p.index),
					zap.Int64("gid", commonutils.GoID()))
			}
			p.lock <- struct{}{}
		}
	}
	p.mgr.account(accounting.KindLockedPage)
}

// TryLock acquires the lock only if it is free.
func (p *Page) TryLock() bool {
	select {
	case p.lock <- struct{}{}:
		p.mgr.account(accounting.KindLockedPage)
		return true
	default:
		return false
	}
}

// Unlock releases the binary lock. Unlocking a page that is not locked is
// a contract violation and is reported without touching the counters.
func (p *Page) Unlock() {
	select {
	case <-p.lock:
		p.mgr.discount(accounting.KindLockedPage)
	default:
		p.mgr.log.Warn("unlock of a page that is not locked",
			zap.Uint64("owner", uint64(p.owner)),
			zap.Uint64("index", p.index),
			zap.String("caller", commonutils.Caller(1)))
	}
}

// IsLocked reports whether the lock is currently held.
func (p *Page) IsLocked() bool { return len(p.lock) == 1 }

func (p *Page) SetNew()     { p.newFlag = true }
func (p *Page) ClearNew()   { p.newFlag = false }
func (p *Page) IsNew() bool { return p.newFlag }

// SetPrivate attaches a caller-defined tag word to the page.
func (p *Page) SetPrivate(v uint64) {
	p.private = v
	p.hasPrivate = true
}

// ClearPrivate keeps the tag word but marks it unset.
func (p *Page) ClearPrivate(v uint64) {
	p.private = v
	p.hasPrivate = false
}

// Private returns the tag word and whether it is set.
func (p *Page) Private() (uint64, bool) { return p.private, p.hasPrivate }

func (p *Page) SetOwner(owner OwnerID) { p.owner = owner }
func (p *Page) Owner() OwnerID         { return p.owner }
func (p *Page) SetIndex(index uint64)  { p.index = index }
func (p *Page) Index() uint64          { return p.index }

// CanMergeWith reports whether two pages may be merged into one extent:
// same new/existing state, same owner, adjacent indexes.
func (p *Page) CanMergeWith(other *Page) bool {
	if other == nil {
		return false
	}

	sameType := p.newFlag == other.newFlag
	sameOwner := p.owner == other.owner

	var diff uint64
	if p.index >= other.index {
		diff = p.index - other.index
	} else {
		diff = other.index - p.index
	}

	return sameType && sameOwner && diff == 1
}
