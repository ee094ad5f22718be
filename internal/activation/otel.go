package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"carwash/pkg/contracts/domain"
)

const (
	TracerName = "carwash-activation"
	MeterName  = "carwash-activation"
)

// ActivationMetrics holds the activation OpenTelemetry instruments.
// All record methods are safe on a nil receiver.
type ActivationMetrics struct {
	// Activation metrics
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	// Token metrics
	TokenIssued      metric.Int64Counter
	TokenValidations metric.Int64Counter

	// Security metrics
	SecurityEvents metric.Int64Counter
	GuardBlocks    metric.Int64Counter
}

// InitializeActivationMetrics creates all activation metrics on the given meter
func InitializeActivationMetrics(meter metric.Meter) (*ActivationMetrics, error) {
	metrics := &ActivationMetrics{}

	var err error

	metrics.ActivationAttempts, err = meter.Int64Counter(
		"activation_attempts_total",
		metric.WithDescription("Total number of device activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	metrics.ActivationSuccess, err = meter.Int64Counter(
		"activation_success_total",
		metric.WithDescription("Total number of successful device activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	metrics.ActivationFailures, err = meter.Int64Counter(
		"activation_failures_total",
		metric.WithDescription("Total number of failed device activations by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	metrics.ActivationDuration, err = meter.Float64Histogram(
		"activation_duration_seconds",
		metric.WithDescription("Device activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	metrics.TokenIssued, err = meter.Int64Counter(
		"activation_tokens_issued_total",
		metric.WithDescription("Total number of activation tokens issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issued counter: %w", err)
	}

	metrics.TokenValidations, err = meter.Int64Counter(
		"activation_token_validations_total",
		metric.WithDescription("Total number of activation token validations by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validations counter: %w", err)
	}

	metrics.SecurityEvents, err = meter.Int64Counter(
		"activation_security_events_total",
		metric.WithDescription("Total number of public key security events"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security events counter: %w", err)
	}

	metrics.GuardBlocks, err = meter.Int64Counter(
		"activation_guard_blocks_total",
		metric.WithDescription("Total number of activation requests rejected by the attempt guard"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard blocks counter: %w", err)
	}

	return metrics, nil
}

// NewActivationMetrics creates metrics on the global meter provider
func NewActivationMetrics() (*ActivationMetrics, error) {
	return InitializeActivationMetrics(otel.Meter(MeterName))
}

// RecordActivation records one activation outcome
func (m *ActivationMetrics) RecordActivation(ctx context.Context, duration time.Duration, reason string) {
	if m == nil {
		return
	}

	labels := metric.WithAttributes(
		attribute.String("operation", "activation"),
		attribute.String("component", "activation_service"),
	)

	m.ActivationAttempts.Add(ctx, 1, labels)
	m.ActivationDuration.Record(ctx, duration.Seconds(), labels)

	if reason == domain.ReasonActivated {
		m.ActivationSuccess.Add(ctx, 1, labels)
		return
	}
	m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", "activation_service"),
		attribute.String("reason", reason),
	))
}

// RecordTokenIssued counts an issued token
func (m *ActivationMetrics) RecordTokenIssued(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

// RecordTokenValidation counts a token validation with its result (valid, expired, invalid)
func (m *ActivationMetrics) RecordTokenValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokenValidations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSecurityEvent counts a key store security event
func (m *ActivationMetrics) RecordSecurityEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.SecurityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordGuardBlock counts an identifier newly blocked by the attempt guard
func (m *ActivationMetrics) RecordGuardBlock(ctx context.Context) {
	if m == nil {
		return
	}
	m.GuardBlocks.Add(ctx, 1)
}

// TraceVerification wraps signature verification in a span
func TraceVerification(ctx context.Context, deviceID string, fn func(ctx context.Context) (*VerificationResult, error)) (*VerificationResult, error) {
	tracer := otel.Tracer(TracerName)

	ctx, span := tracer.Start(ctx, "activation.verify",
		trace.WithAttributes(
			attribute.String("activation.operation", "verify"),
			attribute.String("activation.device_id", deviceID),
			attribute.String("component", "verifier"),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)

	span.SetAttributes(
		attribute.Float64("activation.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("activation.success", err == nil),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("activation.error_type", ClassifyError(err)))
		return nil, err
	}

	span.SetAttributes(attribute.String("activation.license_type", result.LicenseType))
	span.SetStatus(codes.Ok, "signature verified")
	return result, nil
}

// ClassifyError maps a verification error to its audit reason code
func ClassifyError(err error) string {
	var mismatch *FieldMismatchError
	switch {
	case err == nil:
		return domain.ReasonActivated
	case errors.As(err, &mismatch):
		if mismatch.Field == "appId" {
			return domain.ReasonAppMismatch
		}
		return domain.ReasonDeviceMismatch
	case errors.Is(err, ErrInvalidSignature):
		return domain.ReasonInvalidSignature
	case errors.Is(err, ErrMalformedSignature):
		return domain.ReasonMalformed
	case IsKeyError(err):
		return domain.ReasonKeyUnavailable
	case errors.Is(err, ErrAttemptsBlocked):
		return domain.ReasonBlocked
	default:
		return domain.ReasonError
	}
}
