package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/flashfs/core/memory_engine/accounting"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]map[attribute.Set]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]map[attribute.Set]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				continue
			}
			points := make(map[attribute.Set]int64)
			for _, dp := range gauge.DataPoints {
				points[dp.Attributes] = dp.Value
			}
			out[m.Name] = points
		}
	}
	return out
}

func TestAccountingMetrics_ObservesSnapshot(t *testing.T) {
	reg := accounting.NewRegistry(zaptest.NewLogger(t), true)
	reg.Global().Increment(accounting.KindPage)
	reg.Global().Increment(accounting.KindPage)
	reg.Subsystem("seglog").Increment(accounting.KindLockedPage)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := NewAccountingMetrics(provider.Meter("test"), reg)
	require.NoError(t, err)
	defer metrics.Unregister()

	points := collect(t, reader)

	globalAttrs := attribute.NewSet(attribute.String("scope", "global"))
	require.Equal(t, int64(2), points["flashfs.memory.pages_outstanding"][globalAttrs])
	require.Equal(t, int64(0), points["flashfs.memory.pages_locked"][globalAttrs])

	subAttrs := attribute.NewSet(
		attribute.String("scope", "subsystem"),
		attribute.String("subsystem", "seglog"),
	)
	require.Equal(t, int64(1), points["flashfs.memory.pages_locked"][subAttrs])

	// The gauges track the registry, not a one-time copy.
	reg.Global().Decrement(accounting.KindPage)
	points = collect(t, reader)
	require.Equal(t, int64(1), points["flashfs.memory.pages_outstanding"][globalAttrs])
}
