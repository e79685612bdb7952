package pagemanager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	pagealloc "github.com/sushant-115/flashfs/core/memory_engine/page_alloc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func setupManager(t *testing.T) (*Manager, *accounting.Registry) {
	t.Helper()
	reg := accounting.NewRegistry(zaptest.NewLogger(t), true)
	alloc, err := pagealloc.New(pagealloc.DefaultPageSize, reg.Global(), zaptest.NewLogger(t))
	require.NoError(t, err)
	mgr, err := NewManager(alloc, reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return mgr, reg
}

// setupObservedManager routes manager diagnostics into an observer so a
// test can assert warnings were emitted.
func setupObservedManager(t *testing.T) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	reg := accounting.NewRegistry(logger, true)
	alloc, err := pagealloc.New(pagealloc.DefaultPageSize, reg.Global(), logger)
	require.NoError(t, err)
	mgr, err := NewManager(alloc, reg, logger)
	require.NoError(t, err)
	return mgr, logs
}

func TestManager_AcquireFree(t *testing.T) {
	mgr, reg := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)
	require.Equal(t, int64(1), p.RefCount())
	require.Len(t, p.Data(), pagealloc.DefaultPageSize)
	for i, b := range p.Data() {
		require.Zerof(t, b, "byte %d not zeroed", i)
	}
	require.Equal(t, int64(1), reg.Global().Value(accounting.KindPage))

	mgr.FreePage(p)
	require.Equal(t, int64(0), reg.Global().Value(accounting.KindPage))
	require.Nil(t, p.Data())
}

func TestManager_AcquireFailureTouchesNoCounter(t *testing.T) {
	reg := accounting.NewRegistry(zaptest.NewLogger(t), true)
	alloc, err := pagealloc.New(pagealloc.DefaultPageSize, reg.Global(), zaptest.NewLogger(t),
		pagealloc.WithMaxPages(1))
	require.NoError(t, err)
	mgr, err := NewManager(alloc, reg, zaptest.NewLogger(t))
	require.NoError(t, err)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	_, err = mgr.AcquirePage()
	require.ErrorIs(t, err, pagealloc.ErrOutOfMemory)
	require.Equal(t, int64(1), reg.Global().Value(accounting.KindPage))

	mgr.FreePage(p)
	require.Equal(t, int64(0), reg.Global().Value(accounting.KindPage))
}

func TestPage_RetainRelease(t *testing.T) {
	mgr, _ := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	p.Retain()
	require.Equal(t, int64(2), p.RefCount())
	p.Release()
	require.Equal(t, int64(1), p.RefCount())

	mgr.FreePage(p)
}

func TestPage_ReleaseBelowOneWarns(t *testing.T) {
	mgr, logs := setupObservedManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	p.Release()
	require.Equal(t, 1, logs.FilterMessage("page released below single reference").Len())

	// Restore the final reference so the free path is clean.
	p.Retain()
	mgr.FreePage(p)
}

func TestPage_LockUnlockCounters(t *testing.T) {
	mgr, reg := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	p.Lock()
	require.True(t, p.IsLocked())
	require.Equal(t, int64(1), reg.Global().Value(accounting.KindLockedPage))

	p.Unlock()
	require.False(t, p.IsLocked())
	require.Equal(t, int64(0), reg.Global().Value(accounting.KindLockedPage))

	mgr.FreePage(p)
}

func TestPage_LockMutualExclusion(t *testing.T) {
	mgr, _ := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	p.Lock()

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Lock()
		close(acquired)
		p.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second locker acquired while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired after unlock")
	}
	wg.Wait()

	mgr.FreePage(p)
}

func TestPage_TryLock(t *testing.T) {
	mgr, _ := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	require.True(t, p.TryLock())
	require.False(t, p.TryLock())
	p.Unlock()
	require.True(t, p.TryLock())
	p.Unlock()

	mgr.FreePage(p)
}

func TestPage_UnlockWithoutLockWarns(t *testing.T) {
	mgr, logs := setupObservedManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	p.Unlock()
	require.Equal(t, 1, logs.FilterMessage("unlock of a page that is not locked").Len())

	mgr.FreePage(p)
}

func TestManager_FreeViolationsWarnButProceed(t *testing.T) {
	mgr, logs := setupObservedManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)
	p.Retain()
	p.Lock()

	mgr.FreePage(p)
	require.Nil(t, p.Data())
	require.Equal(t, 1, logs.FilterMessage("freeing page that is still locked").Len())
	require.Equal(t, 1, logs.FilterMessage("freeing page with unexpected reference count").Len())
}

func TestManager_SubsystemAttribution(t *testing.T) {
	mgr, reg := setupManager(t)
	seglog := mgr.ForSubsystem("seglog")

	p, err := seglog.AcquirePage()
	require.NoError(t, err)

	require.Equal(t, int64(1), reg.Global().Value(accounting.KindPage))
	require.Equal(t, int64(1), reg.Subsystem("seglog").Value(accounting.KindPage))

	// Move attribution between subsystems without touching the global.
	btree := mgr.ForSubsystem("btree")
	seglog.ForgetPage(p)
	btree.AccountPage(p)
	require.Equal(t, int64(1), reg.Global().Value(accounting.KindPage))
	require.Equal(t, int64(0), reg.Subsystem("seglog").Value(accounting.KindPage))
	require.Equal(t, int64(1), reg.Subsystem("btree").Value(accounting.KindPage))

	btree.FreePage(p)
	require.Equal(t, int64(0), reg.Global().Value(accounting.KindPage))
	require.Equal(t, int64(0), reg.Subsystem("btree").Value(accounting.KindPage))
}

func TestPage_NewFlagAndPrivate(t *testing.T) {
	mgr, _ := setupManager(t)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)

	require.False(t, p.IsNew())
	p.SetNew()
	require.True(t, p.IsNew())
	p.ClearNew()
	require.False(t, p.IsNew())

	_, ok := p.Private()
	require.False(t, ok)
	p.SetPrivate(42)
	v, ok := p.Private()
	require.True(t, ok)
	require.Equal(t, uint64(42), v)
	p.ClearPrivate(0)
	_, ok = p.Private()
	require.False(t, ok)

	mgr.FreePage(p)
}

func TestPage_CanMergeWith(t *testing.T) {
	mgr, _ := setupManager(t)

	newPage := func(owner OwnerID, index uint64, isNew bool) *Page {
		p, err := mgr.AcquirePage()
		require.NoError(t, err)
		p.SetOwner(owner)
		p.SetIndex(index)
		if isNew {
			p.SetNew()
		}
		t.Cleanup(func() { mgr.FreePage(p) })
		return p
	}

	base := newPage(7, 10, false)

	tests := []struct {
		name  string
		other *Page
		want  bool
	}{
		{"adjacent next", newPage(7, 11, false), true},
		{"adjacent prev", newPage(7, 9, false), true},
		{"same index", newPage(7, 10, false), false},
		{"gap", newPage(7, 12, false), false},
		{"different owner", newPage(8, 11, false), false},
		{"different state", newPage(7, 11, true), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, base.CanMergeWith(tt.other))
		})
	}
}

func TestManager_DisabledAccountingBehavesIdentically(t *testing.T) {
	alloc, err := pagealloc.New(pagealloc.DefaultPageSize, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	mgr, err := NewManager(alloc, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	p, err := mgr.AcquirePage()
	require.NoError(t, err)
	require.Equal(t, int64(1), p.RefCount())

	p.Lock()
	require.True(t, p.IsLocked())
	p.Unlock()

	mgr.FreePage(p)
	require.Nil(t, p.Data())
}
