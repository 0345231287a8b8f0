package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestObservePartitionPublishesGauges(t *testing.T) {
	// given
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(previous) })
	position := int64(41)

	// when
	err := ObservePartition(3, "node-1", func() (bool, int64, bool) {
		position++
		return true, position, false
	})

	// then
	require.NoError(t, err)
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	values := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, m.Name)
			require.Len(t, gauge.DataPoints, 1)
			point := gauge.DataPoints[0]
			node, _ := point.Attributes.Value(attribute.Key("node"))
			assert.Equal(t, "node-1", node.AsString())
			values[m.Name] = point.Value
		}
	}
	assert.Equal(t, map[string]int64{
		"partition_leader":   1,
		"partition_position": 42,
		"partition_halted":   0,
	}, values)
}
