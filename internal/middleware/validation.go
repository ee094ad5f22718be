package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "carwash/internal/errors"
)

// DefaultMaxBodySize bounds activation request bodies. A device info plus a
// signature envelope is well under 8 KiB.
const DefaultMaxBodySize int64 = 64 * 1024

// BodyValidator rejects oversized or syntactically invalid JSON bodies before
// they reach a handler
type BodyValidator struct {
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	maxBodySize  int64
}

// NewBodyValidator creates a validator; maxBodySize <= 0 selects DefaultMaxBodySize
func NewBodyValidator(logger *slog.Logger, errorHandler *apierrors.ErrorHandler, maxBodySize int64) *BodyValidator {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &BodyValidator{
		logger:       logger.With(slog.String("component", "body_validator")),
		errorHandler: errorHandler,
		maxBodySize:  maxBodySize,
	}
}

// Handler implements the middleware
func (v *BodyValidator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > v.maxBodySize {
			v.errorHandler.HandleError(w, r, v.tooLarge(r.ContentLength))
			return
		}

		// one extra byte detects bodies without a Content-Length that exceed the limit
		body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodySize+1))
		if err != nil {
			v.logger.ErrorContext(r.Context(), "failed to read request body",
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			v.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
		if int64(len(body)) > v.maxBodySize {
			v.errorHandler.HandleError(w, r, v.tooLarge(int64(len(body))))
			return
		}

		if len(body) > 0 && !json.Valid(body) {
			v.errorHandler.HandleError(w, r, apierrors.New(
				http.StatusBadRequest,
				"INVALID_JSON",
				"Request body contains invalid JSON",
			))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (v *BodyValidator) tooLarge(size int64) *apierrors.APIError {
	return apierrors.NewWithDetails(
		http.StatusRequestEntityTooLarge,
		"PAYLOAD_TOO_LARGE",
		"Request body exceeds maximum allowed size",
		map[string]interface{}{
			"max_size": v.maxBodySize,
			"size":     size,
		},
	)
}

// ContentTypeValidator requires one of contentTypes on requests that carry a body
func ContentTypeValidator(errorHandler *apierrors.ErrorHandler, contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				errorHandler.HandleError(w, r, apierrors.New(
					http.StatusBadRequest,
					"MISSING_CONTENT_TYPE",
					"Content-Type header is required",
				))
				return
			}

			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusUnsupportedMediaType,
				"UNSUPPORTED_MEDIA_TYPE",
				"Unsupported content type",
				map[string]interface{}{
					"content_type": contentType,
					"allowed":      contentTypes,
				},
			))
		})
	}
}

// QueryParamValidator validates query parameters and writes the problem response on failure
type QueryParamValidator struct {
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewQueryParamValidator creates a new query parameter validator
func NewQueryParamValidator(logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *QueryParamValidator {
	return &QueryParamValidator{
		logger:       logger.With(slog.String("component", "query_validator")),
		errorHandler: errorHandler,
	}
}

// ValidateInt reads an integer parameter within [min, max]
func (v *QueryParamValidator) ValidateInt(w http.ResponseWriter, r *http.Request, param string, min, max, defaultValue int) (int, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		v.reject(w, r, param, fmt.Sprintf("%s must be a valid integer", param))
		return 0, false
	}
	if intValue < min || intValue > max {
		v.reject(w, r, param, fmt.Sprintf("%s must be between %d and %d", param, min, max))
		return 0, false
	}
	return intValue, true
}

// ValidateString reads a required string parameter of at most maxLen bytes
func (v *QueryParamValidator) ValidateString(w http.ResponseWriter, r *http.Request, param string, maxLen int) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(param))
	if value == "" {
		v.reject(w, r, param, fmt.Sprintf("%s is required", param))
		return "", false
	}
	if len(value) > maxLen {
		v.reject(w, r, param, fmt.Sprintf("%s must be at most %d characters", param, maxLen))
		return "", false
	}
	return value, true
}

func (v *QueryParamValidator) reject(w http.ResponseWriter, r *http.Request, param, message string) {
	v.logger.DebugContext(r.Context(), "query parameter rejected",
		slog.String("param", param),
		slog.String("reason", message),
	)
	v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, message))
}
