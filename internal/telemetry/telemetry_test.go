package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDisabledProviderFallsBackToGlobal(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)
	m := p.Meter("test")
	require.NotNil(t, m)
	Counter(m, "tasks.executed", "x").Add(context.Background(), 1)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestCounterRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p := &Provider{mp: mp}

	c := Counter(p.Meter("saga"), "saga.confirm.succeeded", "confirmations")
	c.Add(context.Background(), 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	require.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	require.Equal(t, "otel:4318", stripScheme("otel:4318"))
}
