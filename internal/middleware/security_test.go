package middleware

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	apierrors "carwash/internal/errors"
	"carwash/internal/shared/testutil"
)

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"valid key", "s3cret-admin-key", http.StatusOK},
		{"wrong key", "s3cret-admin-kez", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, handler := testutil.NewTestLogger(t)
			h := APIKeyAuth(logger, "s3cret-admin-key")(http.HandlerFunc(okHandler))

			req := httptest.NewRequest(http.MethodGet, "/api/activation/history?deviceId=ABC123XYZ", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				got := decodeProblem(t, rec)
				assert.Equal(t, apierrors.TypeUnauthorized, got["type"])
				testutil.AssertLogContains(t, handler, slog.LevelWarn, "administrative request rejected")
				assert.True(t, handler.ContainsAttr("key_present", tt.key != ""))
			}
		})
	}
}

func TestSecureHeaders(t *testing.T) {
	h := DefaultSecureHeaders().Handler(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activation/status", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS over plain HTTP")

	req := httptest.NewRequest(http.MethodGet, "/api/activation/status", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "max-age=63072000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}
