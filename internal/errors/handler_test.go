package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash/internal/activation"
	"carwash/internal/shared/testutil"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline exceeded", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"canceled", fmt.Errorf("activate: %w", context.Canceled), http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrInvalidRequest, http.StatusBadRequest, TypeValidation},
		{"attempts blocked", &activation.AttemptsBlockedError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, TypeAttemptsLocked},
		{"blocked sentinel", fmt.Errorf("guard: %w", activation.ErrAttemptsBlocked), http.StatusTooManyRequests, TypeAttemptsLocked},
		{"key integrity", &activation.SecurityViolationError{Reason: "key integrity compromised"}, http.StatusServiceUnavailable, TypeKeyUnavailable},
		{"storage", NewStorageError("ping failed", fmt.Errorf("database is locked")), http.StatusServiceUnavailable, TypeServiceDown},
		{"validation app error", NewAppValidationError("limit must be positive"), http.StatusBadRequest, TypeValidation},
		{"unknown", fmt.Errorf("something odd"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			h := NewErrorHandler(logger)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/activation/activate", nil)
			h.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			got := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, got["type"])
			assert.Equal(t, "/api/activation/activate", got["instance"])
			assert.Contains(t, got, "trace_id")
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	w := httptest.NewRecorder()
	h.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, w.Body.Len())
	assert.Equal(t, 0, handler.Count())
}

func TestErrorHandler_RetryAfterIsRoundedUp(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	r := httptest.NewRequest(http.MethodPost, "/api/activation/activate", nil)
	pd := h.ErrorToProblem(&activation.AttemptsBlockedError{RetryAfter: 1500 * time.Millisecond}, r)
	assert.Equal(t, 2, pd.Extensions["retry_after"])
}

func TestErrorHandler_DetailIsSanitized(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/activation/history", nil)
	h.HandleError(w, r, fmt.Errorf("sql: SELECT * FROM activation_records failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "SELECT")

	records := handler.GetRecordsByLevel(slog.LevelError)
	require.Len(t, records, 1)
	assert.Equal(t, "request failed", records[0].Message)
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	w := httptest.NewRecorder()
	h.HandlePanic(w, httptest.NewRequest(http.MethodGet, "/boom", nil), "nil map write")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "nil map write")
	assert.NotContains(t, w.Body.String(), "goroutine")
	assert.True(t, handler.ContainsMessage("panic recovered"))
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	w := httptest.NewRecorder()
	h.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, w)["type"])

	w = httptest.NewRecorder()
	h.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/activation/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.True(t, strings.Contains(decodeProblem(t, w)["detail"].(string), "DELETE"))
}

func TestErrorHandler_JSON(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger)

	w := httptest.NewRecorder()
	h.JSON(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusAccepted, map[string]bool{"ok": true})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}
