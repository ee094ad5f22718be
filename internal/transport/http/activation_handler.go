package http

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carwash/internal/activation"
	apierrors "carwash/internal/errors"
	"carwash/internal/middleware"
	"carwash/internal/services"
	"carwash/pkg/contracts/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxDeviceIDLength   = 64
)

// ActivationHandler serves /api/activation
type ActivationHandler struct {
	service      services.ActivationService
	errorHandler *apierrors.ErrorHandler
	query        *middleware.QueryParamValidator
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewActivationHandler creates the activation handler
func NewActivationHandler(service services.ActivationService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ActivationHandler {
	return &ActivationHandler{
		service:      service,
		errorHandler: errorHandler,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		logger:       logger.With(slog.String("handler", "activation")),
		tracer:       otel.Tracer("activation-handler"),
	}
}

// Routes returns the activation router. historyGuards wrap the audit history
// route only, typically with middleware.APIKeyAuth.
func (h *ActivationHandler) Routes(historyGuards ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/activate", h.Activate)
	r.Post("/verify-token", h.VerifyToken)
	r.With(historyGuards...).Get("/history", h.History)

	return r
}

// Status handles GET /api/activation/status
func (h *ActivationHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := r.URL.Query().Get("deviceId")

	resp, err := h.service.Status(ctx, deviceID)
	if errors.Is(err, services.ErrDeviceIDRequired) {
		render.JSON(w, r, domain.FailureResponse{Success: false, Message: services.MsgDeviceIDRequired})
		return
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// Activate handles POST /api/activation/activate. Verification outcomes are
// always HTTP 200; only undecodable bodies and blocked clients get a problem response.
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	ctx, span := h.tracer.Start(r.Context(), "activation_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/activation/activate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)
	start := time.Now()

	var req domain.ActivationRequest
	if err := render.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_decode"))
		h.logger.WarnContext(ctx, "failed to decode activation request",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.Activate(ctx, req, services.RequestMeta{
		RemoteAddr: r.RemoteAddr,
		RequestID:  reqID,
	})
	if err != nil {
		span.RecordError(err)
		var blocked *activation.AttemptsBlockedError
		if errors.As(err, &blocked) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(blocked.RetryAfter.Seconds()))))
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("activation.success", resp.Success))
	h.logger.InfoContext(ctx, "activation request completed",
		slog.String("request_id", reqID),
		slog.Bool("success", resp.Success),
		slog.Duration("latency", time.Since(start)),
	)

	render.JSON(w, r, resp)
}

// VerifyToken handles POST /api/activation/verify-token
func (h *ActivationHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.VerifyTokenRequest
	if err := render.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WarnContext(ctx, "failed to decode verify-token request",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(ctx)),
		)
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.VerifyToken(ctx, req.Token)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// History handles GET /api/activation/history
func (h *ActivationHandler) History(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.query.ValidateString(w, r, "deviceId", maxDeviceIDLength)
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxHistoryLimit, defaultHistoryLimit)
	if !ok {
		return
	}

	records, err := h.service.History(r.Context(), deviceID, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ActivationRecord{}
	}

	render.JSON(w, r, domain.ActivationHistoryResponse{Success: true, Records: records})
}
