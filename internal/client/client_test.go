package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "carwash/internal/errors"
	"carwash/internal/shared/testutil"
	"carwash/pkg/contracts/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := testutil.NewTestLogger(t)
	c, err := New(srv.URL+"/", 5*time.Second, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	_, err := New("ftp://example.com", time.Second)
	assert.Error(t, err)

	_, err = New("://bad", time.Second)
	assert.Error(t, err)

	c, err := New("http://localhost:3001/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", c.baseURL)
}

func TestClient_Status(t *testing.T) {
	t.Run("not activated", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/activation/status", r.URL.Path)
			assert.Equal(t, "ABC 123", r.URL.Query().Get("deviceId"))
			writeJSON(w, http.StatusOK, domain.ActivationStatusResponse{Message: "Device belum diaktivasi"})
		})

		resp, err := c.Status(context.Background(), "ABC 123")
		require.NoError(t, err)
		assert.False(t, resp.IsActivated)
		assert.Equal(t, "Device belum diaktivasi", resp.Message)
	})

	t.Run("missing device id", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, domain.FailureResponse{Success: false, Message: "Device ID required"})
		})

		_, err := c.Status(context.Background(), "")
		var rejected *RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "Device ID required", rejected.Message)
	})
}

func TestClient_Activate(t *testing.T) {
	info := testutil.DeviceInfo(testutil.FixedDeviceID)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req domain.ActivationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, info, *req.DeviceInfo)
		assert.Equal(t, `{"signature":"AAAA"}`, req.Signature)

		writeJSON(w, http.StatusOK, domain.ActivationResponse{
			Success:         true,
			Message:         "Aktivasi berhasil",
			ActivationToken: "dG9rZW4=",
			LicenseType:     "STANDARD",
		})
	})

	resp, err := c.Activate(context.Background(), info, `{"signature":"AAAA"}`)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "dG9rZW4=", resp.ActivationToken)
}

func TestClient_ProblemResponses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.Header().Set("Retry-After", "900")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"/errors/activation/too-many-attempts","title":"Too Many Activation Attempts","status":429,"detail":"Terlalu banyak percobaan aktivasi gagal. Silakan coba lagi nanti.","trace_id":"req-1"}`)
	})

	_, err := c.Activate(context.Background(), testutil.DeviceInfo("X"), "{}")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Blocked())
	assert.Equal(t, 15*time.Minute, apiErr.RetryAfter)
	assert.Equal(t, "/errors/activation/too-many-attempts", apiErr.Type)
	assert.Equal(t, "req-1", apiErr.TraceID)
	assert.Contains(t, apiErr.Error(), "429")
}

func TestClient_PlainErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.VerifyToken(context.Background(), "t")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "activation server returned 502: Bad Gateway", apiErr.Error())
}

func TestClient_History(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "admin-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "ABC123XYZ", r.URL.Query().Get("deviceId"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, domain.ActivationHistoryResponse{
			Success: true,
			Records: []domain.ActivationRecord{{DeviceID: "ABC123XYZ", Reason: domain.ReasonActivated, Success: true}},
		})
	}, WithAPIKey("admin-key"))

	records, err := c.History(context.Background(), "ABC123XYZ", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ReasonActivated, records[0].Reason)
}

func TestClient_ServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second)
	require.NoError(t, err)

	_, err = c.VerifyToken(context.Background(), "t")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeNetwork, appErr.Type)
	assert.Equal(t, url+"/api/activation/verify-token", appErr.Context["url"])
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.VerifyToken(ctx, "t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
