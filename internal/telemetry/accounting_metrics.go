package internaltelemetry

import (
	"context"

	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AccountingMetrics exposes the leak-accounting registry as observable
// gauges. The registry stays the source of truth; the gauges are read
// from a snapshot on each collection, so metric export can never perturb
// the counters themselves.
type AccountingMetrics struct {
	registry *accounting.Registry

	blocksGauge metric.Int64ObservableGauge
	pagesGauge  metric.Int64ObservableGauge
	lockedGauge metric.Int64ObservableGauge

	registration metric.Registration
}

// NewAccountingMetrics creates and registers the accounting gauges.
func NewAccountingMetrics(meter metric.Meter, registry *accounting.Registry) (*AccountingMetrics, error) {
	blocksGauge, err := meter.Int64ObservableGauge(
		"flashfs.memory.blocks_outstanding",
		metric.WithDescription("Raw memory blocks currently outstanding."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesGauge, err := meter.Int64ObservableGauge(
		"flashfs.memory.pages_outstanding",
		metric.WithDescription("Memory pages currently outstanding."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	lockedGauge, err := meter.Int64ObservableGauge(
		"flashfs.memory.pages_locked",
		metric.WithDescription("Memory pages currently locked."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m := &AccountingMetrics{
		registry:    registry,
		blocksGauge: blocksGauge,
		pagesGauge:  pagesGauge,
		lockedGauge: lockedGauge,
	}

	m.registration, err = meter.RegisterCallback(
		m.observe, blocksGauge, pagesGauge, lockedGauge,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AccountingMetrics) observe(_ context.Context, o metric.Observer) error {
	snap := m.registry.Snapshot()

	globalAttrs := metric.WithAttributes(attribute.String("scope", "global"))
	o.ObserveInt64(m.blocksGauge, snap.Global.MemoryBlocks, globalAttrs)
	o.ObserveInt64(m.pagesGauge, snap.Global.Pages, globalAttrs)
	o.ObserveInt64(m.lockedGauge, snap.Global.LockedPages, globalAttrs)

	for name, counts := range snap.Subsystems {
		attrs := metric.WithAttributes(
			attribute.String("scope", "subsystem"),
			attribute.String("subsystem", name),
		)
		o.ObserveInt64(m.blocksGauge, counts.MemoryBlocks, attrs)
		o.ObserveInt64(m.pagesGauge, counts.Pages, attrs)
		o.ObserveInt64(m.lockedGauge, counts.LockedPages, attrs)
	}
	return nil
}

// Unregister stops the collection callback.
func (m *AccountingMetrics) Unregister() error {
	return m.registration.Unregister()
}
