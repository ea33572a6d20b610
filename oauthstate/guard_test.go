package oauthstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/instrumentation"
	"github.com/jrsteele09/go-auth-client/oauthstate"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectCounter returns the data points of the named counter keyed by their
// result attribute.
func collectCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != name {
				continue
			}
			for _, dp := range sum.DataPoints {
				result, _ := dp.Attributes.Value("result")
				counts[result.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestGuard_GenerateThenValidate(t *testing.T) {
	backend := storage.NewMemoryBackend(0)
	guard := oauthstate.New(backend)

	state, err := guard.Generate()
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.True(t, guard.Pending())

	require.True(t, guard.Validate(state))
	require.False(t, guard.Pending())
	require.False(t, guard.Validate(state), "state is single use")
}

func TestGuard_DoubleGenerate(t *testing.T) {
	guard := oauthstate.New(storage.NewMemoryBackend(0))

	first, err := guard.Generate()
	require.NoError(t, err)
	second, err := guard.Generate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.False(t, guard.Validate(first), "first token was replaced")
	require.True(t, guard.Validate(second))
}

func TestGuard_MismatchKeepsSlot(t *testing.T) {
	guard := oauthstate.New(storage.NewMemoryBackend(0))
	state, err := guard.Generate()
	require.NoError(t, err)

	require.False(t, guard.Validate("forged"))
	require.False(t, guard.Validate(""))
	require.True(t, guard.Pending())
	require.True(t, guard.Validate(state))
}

func TestGuard_AbsentSlot(t *testing.T) {
	backend := storage.NewMemoryBackend(0)
	guard := oauthstate.New(backend)

	require.False(t, guard.Validate("anything"))
	keys, err := backend.Keys("")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestGuard_KeyIsNotPrefixed(t *testing.T) {
	backend := storage.NewMemoryBackend(0)
	adapter := storage.NewWithBackend(backend, "app_")
	guard := oauthstate.New(adapter.Backend())

	state, err := guard.Generate()
	require.NoError(t, err)

	stored, ok, err := backend.Get("oauth_state")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, state, stored)

	// Clearing the prefixed namespace leaves the state alone.
	adapter.Clear()
	require.True(t, guard.Pending())
}

func TestGuard_RandomFallback(t *testing.T) {
	previous := oauthstate.RandomFunc
	t.Cleanup(func() { oauthstate.RandomFunc = previous })

	oauthstate.RandomFunc = func() (string, error) { return "", errors.New("no entropy") }
	_, err := oauthstate.New(storage.NewMemoryBackend(0)).Generate()
	require.Error(t, err)
}

func TestGuard_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := instrumentation.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	guard := oauthstate.New(storage.NewMemoryBackend(0), oauthstate.WithMetrics(metrics))
	state, err := guard.Generate()
	require.NoError(t, err)
	require.False(t, guard.Validate("forged"))
	require.True(t, guard.Validate(state))

	counts := collectCounter(t, reader, "auth_client_oauth_state_checks_total")
	require.Equal(t, int64(1), counts[instrumentation.ResultSuccess])
	require.Equal(t, int64(1), counts[instrumentation.ResultFailure])
}
