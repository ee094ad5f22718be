package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carwash/internal/activation"
	apperrors "carwash/internal/errors"
	"carwash/internal/infrastructure"
	"carwash/pkg/contracts/domain"
)

// User-facing activation messages
const (
	MsgActivated            = "Aktivasi berhasil"
	MsgNotActivated         = "Device belum diaktivasi"
	MsgDeviceIDRequired     = "Device ID required"
	MsgMissingActivation    = "Device info dan signature diperlukan"
	MsgMissingIdentifiers   = "Device ID dan App ID diperlukan"
	MsgDeviceMismatch       = "Device ID tidak sesuai dengan signature"
	MsgAppMismatch          = "App ID tidak sesuai"
	MsgInvalidSignature     = "Signature tidak valid"
	MsgVerificationErrorFmt = "Error verifying activation: "
	MsgTokenRequired        = "Token diperlukan"
	MsgTokenExpired         = "Token sudah expired"
	MsgTokenInvalid         = "Token tidak valid"
)

const maxHistoryLimit = 200

// ActivationService is the activation use-case layer behind the HTTP API
type ActivationService interface {
	Status(ctx context.Context, deviceID string) (*domain.ActivationStatusResponse, error)
	Activate(ctx context.Context, req domain.ActivationRequest, meta RequestMeta) (*domain.ActivationResponse, error)
	VerifyToken(ctx context.Context, token string) (*domain.VerifyTokenResponse, error)
	History(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error)
}

// RequestMeta carries transport details recorded with each attempt
type RequestMeta struct {
	RemoteAddr string
	RequestID  string
}

// ActivationVerifier checks a signature envelope and issues a token
type ActivationVerifier interface {
	Verify(ctx context.Context, info domain.DeviceInfo, envelopeJSON string) (*activation.VerificationResult, error)
}

// TokenValidator decodes and checks an activation token
type TokenValidator interface {
	Validate(ctx context.Context, encoded string) (activation.Token, error)
}

// AuditStore persists activation attempts
type AuditStore interface {
	Create(ctx context.Context, rec *domain.ActivationRecord) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error)
}

// ActivationOption configures the activation service
type ActivationOption func(*activationService)

// WithAttemptGuard enables per-client blocking after repeated failures
func WithAttemptGuard(guard *activation.AttemptGuard) ActivationOption {
	return func(s *activationService) { s.guard = guard }
}

// WithAuditStore records every attempt in store
func WithAuditStore(store AuditStore) ActivationOption {
	return func(s *activationService) { s.audit = store }
}

// WithActivationMetrics sets the metrics sink
func WithActivationMetrics(metrics *activation.ActivationMetrics) ActivationOption {
	return func(s *activationService) { s.metrics = metrics }
}

type activationService struct {
	verifier ActivationVerifier
	tokens   TokenValidator
	guard    *activation.AttemptGuard
	audit    AuditStore
	metrics  *activation.ActivationMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewActivationService creates the activation service
func NewActivationService(verifier ActivationVerifier, tokens TokenValidator, logger *slog.Logger, opts ...ActivationOption) ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &activationService{
		verifier: verifier,
		tokens:   tokens,
		logger:   logger.With(slog.String("service", "activation")),
		tracer:   otel.Tracer("activation-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status always reports "not activated". The server keeps no activation state;
// POS clients decide from their own stored token.
func (s *activationService) Status(ctx context.Context, deviceID string) (*domain.ActivationStatusResponse, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, ErrDeviceIDRequired
	}

	s.logger.DebugContext(ctx, "activation status requested",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.String("device_id", deviceID),
	)

	return &domain.ActivationStatusResponse{
		IsActivated: false,
		Message:     MsgNotActivated,
	}, nil
}

// Activate verifies a signed activation request. Rejections are returned as
// unsuccessful responses; errors are reserved for blocked clients.
func (s *activationService) Activate(ctx context.Context, req domain.ActivationRequest, meta RequestMeta) (*domain.ActivationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "activation_service.activate")
	defer span.End()

	start := time.Now()
	traceID := traceIDFrom(ctx)
	if meta.RequestID == "" {
		meta.RequestID = traceID
	}
	client := clientIdentifier(meta.RemoteAddr)

	rec := &domain.ActivationRecord{
		RemoteAddr: meta.RemoteAddr,
		RequestID:  meta.RequestID,
	}
	if req.DeviceInfo != nil {
		rec.DeviceID = req.DeviceInfo.DeviceID
		rec.AppID = req.DeviceInfo.AppID
	}
	span.SetAttributes(attribute.String("device.id", rec.DeviceID))

	if s.guard != nil {
		if blocked, remaining := s.guard.IsBlocked(client); blocked {
			span.SetStatus(codes.Error, "client blocked")
			s.logger.WarnContext(ctx, "activation rejected, client blocked",
				slog.String("trace_id", traceID),
				slog.String("client", client),
				slog.Duration("retry_after", remaining),
			)
			s.metrics.RecordActivation(ctx, time.Since(start), domain.ReasonBlocked)
			rec.Reason = domain.ReasonBlocked
			rec.Message = activation.ErrAttemptsBlocked.Error()
			s.record(ctx, rec)
			return nil, &activation.AttemptsBlockedError{RetryAfter: remaining}
		}
	}

	if req.DeviceInfo == nil || req.Signature == "" {
		return s.reject(ctx, rec, start, domain.ReasonMissingFields, MsgMissingActivation), nil
	}
	if req.DeviceInfo.DeviceID == "" || req.DeviceInfo.AppID == "" {
		return s.reject(ctx, rec, start, domain.ReasonMissingFields, MsgMissingIdentifiers), nil
	}

	result, err := s.verifier.Verify(ctx, *req.DeviceInfo, req.Signature)
	if err != nil {
		reason := activation.ClassifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)

		s.logger.WarnContext(ctx, "activation verification failed",
			slog.String("trace_id", traceID),
			slog.String("device_id", rec.DeviceID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		if s.guard != nil && countsAsFailedAttempt(err) {
			s.guard.RecordFailure(ctx, client)
		}
		return s.reject(ctx, rec, start, reason, verificationMessage(err)), nil
	}

	if s.guard != nil {
		s.guard.RecordSuccess(client)
	}

	duration := time.Since(start)
	s.metrics.RecordActivation(ctx, duration, domain.ReasonActivated)
	span.SetAttributes(attribute.String("license.type", result.LicenseType))

	rec.Success = true
	rec.LicenseType = result.LicenseType
	rec.Reason = domain.ReasonActivated
	rec.Message = MsgActivated
	s.record(ctx, rec)

	s.logger.InfoContext(ctx, "device activated",
		slog.String("trace_id", traceID),
		slog.String("device_id", rec.DeviceID),
		slog.String("license_type", result.LicenseType),
		slog.Duration("latency", duration),
	)

	return &domain.ActivationResponse{
		Success:         true,
		Message:         MsgActivated,
		ActivationToken: result.Token,
		LicenseType:     result.LicenseType,
	}, nil
}

func (s *activationService) reject(ctx context.Context, rec *domain.ActivationRecord, start time.Time, reason, message string) *domain.ActivationResponse {
	s.metrics.RecordActivation(ctx, time.Since(start), reason)
	rec.Reason = reason
	rec.Message = message
	s.record(ctx, rec)
	return &domain.ActivationResponse{Success: false, Message: message}
}

// record writes rec to the audit store. Failures are logged only.
func (s *activationService) record(ctx context.Context, rec *domain.ActivationRecord) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Create(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to write activation audit record",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("device_id", rec.DeviceID),
			slog.String("error", err.Error()),
		)
	}
}

// VerifyToken validates an activation token previously issued by Activate
func (s *activationService) VerifyToken(ctx context.Context, token string) (*domain.VerifyTokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "activation_service.verify_token")
	defer span.End()

	if token == "" {
		return &domain.VerifyTokenResponse{Success: false, Message: MsgTokenRequired}, nil
	}

	tok, err := s.tokens.Validate(ctx, token)
	switch {
	case err == nil:
		claims := tok.Claims()
		span.SetAttributes(attribute.String("device.id", claims.DeviceID))
		return &domain.VerifyTokenResponse{Success: true, Valid: true, Data: &claims}, nil
	case errors.Is(err, activation.ErrTokenExpired):
		s.logger.InfoContext(ctx, "expired activation token presented",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("device_id", tok.DeviceID),
		)
		return &domain.VerifyTokenResponse{Success: false, Message: MsgTokenExpired}, nil
	default:
		s.logger.InfoContext(ctx, "invalid activation token presented",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("error", err.Error()),
		)
		return &domain.VerifyTokenResponse{Success: false, Message: MsgTokenInvalid}, nil
	}
}

// History lists audited attempts, newest first
func (s *activationService) History(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error) {
	if s.audit == nil {
		return nil, apperrors.NewStorageError("activation audit store is disabled", ErrServiceUnavailable)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.audit.ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to load activation history", err)
	}
	return records, nil
}

func verificationMessage(err error) string {
	var mismatch *activation.FieldMismatchError
	switch {
	case errors.As(err, &mismatch) && mismatch.Field == "appId":
		return MsgAppMismatch
	case errors.As(err, &mismatch):
		return MsgDeviceMismatch
	case errors.Is(err, activation.ErrInvalidSignature):
		return MsgInvalidSignature
	default:
		return MsgVerificationErrorFmt + err.Error()
	}
}

// countsAsFailedAttempt reports whether err reflects the submitted claim rather than server state
func countsAsFailedAttempt(err error) bool {
	return errors.Is(err, activation.ErrInvalidSignature) ||
		errors.Is(err, activation.ErrFieldMismatch) ||
		errors.Is(err, activation.ErrMalformedSignature)
}

// clientIdentifier strips the port from a remote address
func clientIdentifier(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	if remoteAddr == "" {
		return "unknown"
	}
	return remoteAddr
}

func traceIDFrom(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.GetTraceID(ctx)
}
