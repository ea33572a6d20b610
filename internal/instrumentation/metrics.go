// Package instrumentation records OpenTelemetry metrics for the auth client.
// A nil *Metrics is valid and records nothing.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrResult    = "result"
	attrBackend   = "backend"
	attrOperation = "operation"
	attrReason    = "reason"
)

// Refresh results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultExpired = "expired"
)

// Metrics holds the instruments used across the client.
type Metrics struct {
	refreshTotal       metric.Int64Counter
	storageErrorsTotal metric.Int64Counter
	stateChecksTotal   metric.Int64Counter
}

// NewMetrics creates the client's instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.refreshTotal, err = meter.Int64Counter(
		"auth_client_token_refresh_total",
		metric.WithDescription("Token refresh attempts by result"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	m.storageErrorsTotal, err = meter.Int64Counter(
		"auth_client_storage_errors_total",
		metric.WithDescription("Storage operations that failed and were dropped"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage error counter: %w", err)
	}

	m.stateChecksTotal, err = meter.Int64Counter(
		"auth_client_oauth_state_checks_total",
		metric.WithDescription("OAuth state validations by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state check counter: %w", err)
	}

	return m, nil
}

// RecordRefresh records one refresh outcome.
func (m *Metrics) RecordRefresh(ctx context.Context, result string) {
	if m == nil || m.refreshTotal == nil {
		return
	}
	m.refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordStorageError records a storage failure that was swallowed.
func (m *Metrics) RecordStorageError(ctx context.Context, backend, operation, reason string) {
	if m == nil || m.storageErrorsTotal == nil {
		return
	}
	m.storageErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrReason, reason),
	))
}

// RecordStateCheck records an OAuth state validation.
func (m *Metrics) RecordStateCheck(ctx context.Context, valid bool) {
	if m == nil || m.stateChecksTotal == nil {
		return
	}
	result := ResultSuccess
	if !valid {
		result = ResultFailure
	}
	m.stateChecksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
