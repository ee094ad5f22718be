package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad body")
	assert.Equal(t, "bad body", err.Error())
}

func TestAPIError_Render(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	require.NoError(t, render.Render(w, r, ErrRateLimitExceeded))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.ErrorCode)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		code   string
	}{
		{ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{ErrValidationFailed, http.StatusBadRequest, "VALIDATION_FAILED"},
		{ErrMissingParameter, http.StatusBadRequest, "MISSING_PARAMETER"},
		{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{ErrDeviceNotActivated, http.StatusPreconditionRequired, "DEVICE_NOT_ACTIVATED"},
		{ErrRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{ErrInternalServer, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.ErrorCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestDetailHelpers(t *testing.T) {
	err := InvalidRequestWithError(fmt.Errorf("unexpected EOF"))
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "unexpected EOF", err.Details)

	v := ErrValidation("deviceId", "required")
	assert.Equal(t, ValidationError{Field: "deviceId", Message: "required"}, v.Details)

	multi := NewValidationErrors([]ValidationError{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}})
	details, ok := multi.Details.(ValidationErrors)
	require.True(t, ok)
	assert.Len(t, details.Errors, 2)

	p := ErrPanic("boom")
	assert.Equal(t, http.StatusInternalServerError, p.StatusCode)
	assert.Equal(t, map[string]string{"message": "boom"}, p.Details)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, ErrDeviceNotActivated)

	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "DEVICE_NOT_ACTIVATED", body.Error.ErrorCode)
	assert.Equal(t, "Device belum diaktivasi", body.Error.Message)
}

func TestProblemDetails(t *testing.T) {
	t.Run("extensions are flattened", func(t *testing.T) {
		pd := NewProblemDetails(http.StatusTooManyRequests, TypeAttemptsLocked, "Too Many", "slow down", "/api/activation/activate").
			WithExtension("retry_after", 900).
			WithExtension("trace_id", "req-1")

		data, err := json.Marshal(pd)
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, TypeAttemptsLocked, got["type"])
		assert.Equal(t, float64(429), got["status"])
		assert.Equal(t, float64(900), got["retry_after"])
		assert.Equal(t, "req-1", got["trace_id"])
	})

	t.Run("extensions cannot override standard members", func(t *testing.T) {
		pd := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad", "", "").
			WithExtension("status", 200)

		data, err := json.Marshal(pd)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"status":400`)
		assert.NotContains(t, string(data), `"detail"`)
	})

	t.Run("write problem", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteProblem(w, NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad Request", "broken", "/x"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), `"detail":"broken"`)
	})
}
