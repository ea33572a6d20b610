package instrumentation_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m, err := instrumentation.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordRefresh(ctx, instrumentation.ResultSuccess)
	m.RecordRefresh(ctx, instrumentation.ResultFailure)
	m.RecordStorageError(ctx, "memory", "set", "quota")
	m.RecordStateCheck(ctx, true)
	m.RecordStateCheck(ctx, false)
	m.RecordStateCheck(ctx, false)

	totals := collectSums(t, reader)
	require.Equal(t, int64(2), totals["auth_client_token_refresh_total"])
	require.Equal(t, int64(1), totals["auth_client_storage_errors_total"])
	require.Equal(t, int64(3), totals["auth_client_oauth_state_checks_total"])
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *instrumentation.Metrics
	ctx := context.Background()
	m.RecordRefresh(ctx, instrumentation.ResultSuccess)
	m.RecordStorageError(ctx, "file", "get", "corrupt")
	m.RecordStateCheck(ctx, true)
}
