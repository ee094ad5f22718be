// Package client talks to the activation server from the POS side and ties the
// server response to the local activation gate.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "carwash/internal/errors"
	"carwash/pkg/contracts/domain"
)

const apiKeyHeader = "X-API-Key"

// maxResponseSize bounds how much of a response body is read
const maxResponseSize = 1 << 20

// HTTPClient interface for dependency injection
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the activation API
type Client struct {
	baseURL    string
	httpClient HTTPClient
	apiKey     string
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIKey sends key on administrative requests
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// New creates a client for the server at baseURL. timeout applies per request
// when the default HTTP client is used.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "activation_client"))
	return c, nil
}

// Status asks the server whether deviceID is activated
func (c *Client) Status(ctx context.Context, deviceID string) (*domain.ActivationStatusResponse, error) {
	var resp struct {
		domain.ActivationStatusResponse
		Success *bool `json:"success"`
	}
	path := "/api/activation/status?deviceId=" + url.QueryEscape(deviceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, &RejectedError{Message: resp.Message}
	}
	return &resp.ActivationStatusResponse, nil
}

// Activate submits device info with the raw .sig file contents
func (c *Client) Activate(ctx context.Context, info domain.DeviceInfo, signature string) (*domain.ActivationResponse, error) {
	var resp domain.ActivationResponse
	req := domain.ActivationRequest{DeviceInfo: &info, Signature: signature}
	if err := c.do(ctx, http.MethodPost, "/api/activation/activate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyToken asks the server to decode and check token
func (c *Client) VerifyToken(ctx context.Context, token string) (*domain.VerifyTokenResponse, error) {
	var resp domain.VerifyTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/activation/verify-token", domain.VerifyTokenRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists audited attempts for deviceID. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, deviceID string, limit int) ([]domain.ActivationRecord, error) {
	q := url.Values{"deviceId": {deviceID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp domain.ActivationHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/activation/history?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("failed to reach activation server", err).WithContext("url", req.URL.String())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.DebugContext(ctx, "activation API call",
		slog.String("method", method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
