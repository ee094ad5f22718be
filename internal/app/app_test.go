package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash/internal/activation"
	"carwash/internal/config"
	"carwash/internal/shared/testutil"
	"carwash/pkg/contracts/domain"
)

type testApp struct {
	app     *Application
	server  *httptest.Server
	fixture *testutil.ActivationFixture
}

func newTestApp(t *testing.T, mutate func(*config.Config), opts ...Option) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "activation.db")
	cfg.Security.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	logger, _ := testutil.NewTestLogger(t)
	fixture := testutil.NewActivationFixture(t)
	opts = append([]Option{WithLogger(logger), WithKeyStore(fixture.KeyStore)}, opts...)

	application, err := NewApplication(context.Background(), cfg, opts...)
	require.NoError(t, err)

	server := httptest.NewServer(application.Router)
	t.Cleanup(func() {
		server.Close()
		application.release(context.Background())
	})

	return &testApp{app: application, server: server, fixture: fixture}
}

func (ta *testApp) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ta.server.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ta *testApp) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ta.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ta *testApp) activationRequest(t *testing.T, deviceID, signedFor string) domain.ActivationRequest {
	t.Helper()

	info := testutil.DeviceInfo(deviceID)
	return domain.ActivationRequest{
		DeviceInfo: &info,
		Signature:  ta.fixture.SignEnvelope(t, signedFor, domain.AppID, domain.LicenseTypeStandard),
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestApplication_ActivationFlow(t *testing.T) {
	ta := newTestApp(t, nil)

	resp := ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, testutil.FixedDeviceID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	activated := decode[domain.ActivationResponse](t, resp)
	require.True(t, activated.Success, activated.Message)
	require.NotEmpty(t, activated.ActivationToken)

	resp = ta.post(t, "/api/activation/verify-token", map[string]string{"token": activated.ActivationToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decode[domain.VerifyTokenResponse](t, resp)
	assert.True(t, verified.Valid)
	require.NotNil(t, verified.Data)
	assert.Equal(t, testutil.FixedDeviceID, verified.Data.DeviceID)

	resp = ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, "OTHERDEVICE1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rejected := decode[domain.ActivationResponse](t, resp)
	assert.False(t, rejected.Success)
	assert.Equal(t, "Device ID tidak sesuai dengan signature", rejected.Message)

	resp = ta.get(t, "/api/activation/history?deviceId="+testutil.FixedDeviceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[domain.ActivationHistoryResponse](t, resp)
	require.Len(t, history.Records, 2)
	assert.False(t, history.Records[0].Success)
	assert.Equal(t, domain.ReasonDeviceMismatch, history.Records[0].Reason)
	assert.True(t, history.Records[1].Success)
	assert.Equal(t, domain.LicenseTypeStandard, history.Records[1].LicenseType)
}

func TestApplication_StatusIsNeverActivated(t *testing.T) {
	ta := newTestApp(t, nil)

	resp := ta.get(t, "/api/activation/status?deviceId="+testutil.FixedDeviceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[map[string]interface{}](t, resp)
	assert.Equal(t, false, status["isActivated"])
	assert.Equal(t, "Device belum diaktivasi", status["message"])
}

func TestApplication_AttemptGuardBlocks(t *testing.T) {
	ta := newTestApp(t, func(cfg *config.Config) {
		cfg.Activation.GuardEnabled = true
		cfg.Activation.MaxFailedAttempts = 2
	})

	for i := 0; i < 2; i++ {
		resp := ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, "OTHERDEVICE1"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, testutil.FixedDeviceID))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "900", resp.Header.Get("Retry-After"))
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestApplication_RejectionsNeverBlockByDefault(t *testing.T) {
	ta := newTestApp(t, nil)

	for i := 0; i < config.MaxFailedAttempts+1; i++ {
		resp := ta.post(t, "/api/activation/activate", map[string]interface{}{
			"deviceInfo": testutil.DeviceInfo(testutil.FixedDeviceID),
			"signature":  "not json",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[domain.ActivationResponse](t, resp).Success)
	}

	resp := ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, testutil.FixedDeviceID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	activated := decode[domain.ActivationResponse](t, resp)
	assert.True(t, activated.Success, activated.Message)
}

func TestApplication_HistoryRequiresAPIKey(t *testing.T) {
	ta := newTestApp(t, func(cfg *config.Config) {
		cfg.Security.AdminAPIKey = "s3cret-admin-key"
	})

	resp := ta.get(t, "/api/activation/history?deviceId="+testutil.FixedDeviceID, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ta.get(t, "/api/activation/history?deviceId="+testutil.FixedDeviceID, http.Header{
		"X-Api-Key": []string{"s3cret-admin-key"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the rest of the activation API stays public
	resp = ta.get(t, "/api/activation/status?deviceId="+testutil.FixedDeviceID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_RejectsWrongContentType(t *testing.T) {
	ta := newTestApp(t, nil)

	resp, err := http.Post(ta.server.URL+"/api/activation/activate", "text/plain", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestApplication_Health(t *testing.T) {
	t.Run("ready with a trusted key", func(t *testing.T) {
		ta := newTestApp(t, nil)

		resp := ta.get(t, "/api/health/ready", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = ta.get(t, "/api/health/live", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = ta.get(t, "/api/version", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		version := decode[map[string]interface{}](t, resp)
		assert.Equal(t, Version, version["version"])
	})

	t.Run("not ready when the key fails integrity", func(t *testing.T) {
		badKey := activation.NewKeyStore("bm90IGEga2V5", strings.Repeat("0", 64))
		ta := newTestApp(t, nil, WithKeyStore(badKey))

		resp := ta.get(t, "/api/health/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		resp = ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, testutil.FixedDeviceID))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decode[domain.ActivationResponse](t, resp).Success)
	})
}

func TestApplication_AuditDisabled(t *testing.T) {
	ta := newTestApp(t, func(cfg *config.Config) {
		cfg.Storage.AuditEnabled = false
	})
	assert.Nil(t, ta.app.DB)

	resp := ta.get(t, "/api/activation/history?deviceId="+testutil.FixedDeviceID, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = ta.get(t, "/api/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_NotFound(t *testing.T) {
	ta := newTestApp(t, nil)

	resp := ta.get(t, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestApplication_Metrics(t *testing.T) {
	ta := newTestApp(t, nil)

	resp := ta.post(t, "/api/activation/activate", ta.activationRequest(t, testutil.FixedDeviceID, testutil.FixedDeviceID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ta.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "activation_attempts_total")
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApplication_MetricsDisabled(t *testing.T) {
	ta := newTestApp(t, func(cfg *config.Config) {
		cfg.Telemetry.EnableMetrics = false
	})

	resp := ta.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ta.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_ServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "activation.db")
	cfg.Server.ShutdownTimeout = 2 * time.Second

	logger, logs := testutil.NewTestLogger(t)
	application, err := NewApplication(context.Background(), cfg,
		WithLogger(logger),
		WithKeyStore(testutil.NewActivationFixture(t).KeyStore),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.True(t, logs.ContainsMessage("application shutdown complete"))
	_, err = http.Get(url)
	assert.Error(t, err)
}
