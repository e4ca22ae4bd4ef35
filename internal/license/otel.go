package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// LicenseMetrics holds the license engine's OpenTelemetry instruments
type LicenseMetrics struct {
	Activations        metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	Validations        metric.Int64Counter
	Renewals           metric.Int64Counter
	RenewalDuration    metric.Float64Histogram
	ClockTamper        metric.Int64Counter
	VersionReports     metric.Int64Counter
	StoreDiscards      metric.Int64Counter
}

// InitializeLicenseMetrics creates all license metrics on meter. A nil meter
// yields no-op instruments.
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &LicenseMetrics{}
	var err error

	if m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("License activation attempts by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	if m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	if m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Lease validations by resulting state"),
	); err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	if m.Renewals, err = meter.Int64Counter(
		"license_renewals_total",
		metric.WithDescription("Lease renewal attempts by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create renewals counter: %w", err)
	}

	if m.RenewalDuration, err = meter.Float64Histogram(
		"license_renewal_duration_seconds",
		metric.WithDescription("Lease renewal duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create renewal duration histogram: %w", err)
	}

	if m.ClockTamper, err = meter.Int64Counter(
		"license_clock_tamper_total",
		metric.WithDescription("Validations that detected a rewound system clock"),
	); err != nil {
		return nil, fmt.Errorf("failed to create clock tamper counter: %w", err)
	}

	if m.VersionReports, err = meter.Int64Counter(
		"license_version_reports_total",
		metric.WithDescription("Version reports by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create version reports counter: %w", err)
	}

	if m.StoreDiscards, err = meter.Int64Counter(
		"license_store_discards_total",
		metric.WithDescription("Unreadable lease records discarded by the store"),
	); err != nil {
		return nil, fmt.Errorf("failed to create store discards counter: %w", err)
	}

	return m, nil
}

func (m *LicenseMetrics) recordActivation(ctx context.Context, result string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.Activations.Add(ctx, 1, attrs)
	m.ActivationDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *LicenseMetrics) recordValidation(ctx context.Context, state LeaseState) {
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
	if state == StateClockTampered {
		m.ClockTamper.Add(ctx, 1)
	}
}

func (m *LicenseMetrics) recordRenewal(ctx context.Context, result string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.Renewals.Add(ctx, 1, attrs)
	m.RenewalDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *LicenseMetrics) recordVersionReport(ctx context.Context, result string) {
	m.VersionReports.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// tracer returns the package tracer from the global provider
func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
