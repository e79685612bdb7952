package accounting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestTracker_IncrementDecrement(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), true)
	global := reg.Global()

	global.Increment(KindPage)
	global.Increment(KindPage)
	global.Increment(KindLockedPage)
	require.Equal(t, int64(2), global.Value(KindPage))
	require.Equal(t, int64(1), global.Value(KindLockedPage))
	require.Equal(t, int64(0), global.Value(KindMemoryBlock))

	global.Decrement(KindPage)
	require.Equal(t, int64(1), global.Value(KindPage))
}

func TestTracker_SubsystemIsolation(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), true)

	seglog := reg.Subsystem("seglog")
	btree := reg.Subsystem("btree")

	seglog.Increment(KindPage)
	seglog.Increment(KindPage)
	btree.Increment(KindMemoryBlock)

	require.Equal(t, int64(2), seglog.Value(KindPage))
	require.Equal(t, int64(0), btree.Value(KindPage))
	require.Equal(t, int64(1), btree.Value(KindMemoryBlock))

	// Subsystem trackers do not feed the global triple; the page manager
	// bumps both explicitly.
	require.Equal(t, int64(0), reg.Global().Value(KindPage))

	// Same name returns the same counters.
	again := reg.Subsystem("seglog")
	require.Equal(t, int64(2), again.Value(KindPage))
}

func TestTracker_NegativeDecrementWarnsButProceeds(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := NewRegistry(zap.New(core), true)
	global := reg.Global()

	global.Decrement(KindPage)

	require.Equal(t, int64(-1), global.Value(KindPage))
	require.Equal(t, 1, logs.FilterMessage("accounting counter went negative").Len())
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), true)
	reg.Global().Increment(KindPage)
	reg.Subsystem("maptbl").Increment(KindLockedPage)

	snap := reg.Snapshot()
	require.Equal(t, int64(1), snap.Global.Pages)
	require.Equal(t, int64(1), snap.Subsystems["maptbl"].LockedPages)
	require.Equal(t, int64(0), snap.Subsystems["maptbl"].Pages)
}

func TestRegistry_DisabledIsNoop(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), false)
	global := reg.Global()
	sub := reg.Subsystem("seglog")

	global.Increment(KindPage)
	sub.Increment(KindPage)
	sub.Decrement(KindLockedPage)

	require.Equal(t, int64(0), global.Value(KindPage))
	require.Equal(t, int64(0), sub.Value(KindPage))

	snap := reg.Snapshot()
	require.Equal(t, Counts{}, snap.Global)
	require.Empty(t, snap.Subsystems)
}

func TestTracker_ConcurrentUse(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), true)

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker := reg.Subsystem("shared")
			for i := 0; i < perGoroutine; i++ {
				tracker.Increment(KindPage)
			}
			for i := 0; i < perGoroutine; i++ {
				tracker.Decrement(KindPage)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(0), reg.Subsystem("shared").Value(KindPage))
}
