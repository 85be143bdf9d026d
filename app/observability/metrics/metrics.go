package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "go-credentials-api"

// Login outcomes recorded on login_attempts_total.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	RegisterRequestsTotal   metric.Int64Counter
	RegisterDurationSeconds metric.Float64Histogram
	LoginAttemptsTotal      metric.Int64Counter
	PasswordHashSeconds     metric.Float64Histogram
	DbQueryDurationSeconds  metric.Float64Histogram
	DbQueryErrorsTotal      metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// New creates every instrument on the given meter.
func New(meter metric.Meter) (*AppMetrics, error) {
	var err error
	m := &AppMetrics{}

	m.RegisterRequestsTotal, err = meter.Int64Counter(
		"register_requests_total",
		metric.WithDescription("Total number of register requests completed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create register_requests_total: %w", err)
	}

	m.RegisterDurationSeconds, err = meter.Float64Histogram(
		"register_duration_seconds",
		metric.WithDescription("Duration of register requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create register_duration_seconds: %w", err)
	}

	m.LoginAttemptsTotal, err = meter.Int64Counter(
		"login_attempts_total",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create login_attempts_total: %w", err)
	}

	m.PasswordHashSeconds, err = meter.Float64Histogram(
		"password_hash_duration_seconds",
		metric.WithDescription("Time spent hashing or verifying passwords"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create password_hash_duration_seconds: %w", err)
	}

	m.DbQueryDurationSeconds, err = meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Duration of database queries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration_seconds: %w", err)
	}

	m.DbQueryErrorsTotal, err = meter.Int64Counter(
		"db_query_errors_total",
		metric.WithDescription("Total number of database query errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_errors_total: %w", err)
	}

	return m, nil
}

// InitAppMetrics initializes the global instruments once, from the global MeterProvider.
func InitAppMetrics() (*AppMetrics, error) {
	var err error
	once.Do(func() {
		appMetrics, err = New(otel.GetMeterProvider().Meter(meterName))
	})
	if err != nil {
		return nil, err
	}
	return Get(), nil
}

// Get returns the global instruments, or no-op ones if InitAppMetrics has not run.
func Get() *AppMetrics {
	if appMetrics == nil {
		return Noop()
	}
	return appMetrics
}

// Noop returns instruments that record nothing. Used by tests and by components built without metrics.
func Noop() *AppMetrics {
	m, _ := New(noop.NewMeterProvider().Meter(meterName))
	return m
}

// ObserveQuery records a store round trip and counts it as an error when err is set.
func (m *AppMetrics) ObserveQuery(ctx context.Context, operation, driver string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation),
		attribute.String("db.system", driver),
	)
	m.DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.DbQueryErrorsTotal.Add(ctx, 1, attrs)
	}
}

// LoginAttempt counts one login by outcome.
func (m *AppMetrics) LoginAttempt(ctx context.Context, outcome string) {
	m.LoginAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
