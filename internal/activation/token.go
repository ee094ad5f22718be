package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"carwash/pkg/contracts/domain"
)

const (
	// TokenTimeLayout is ISO-8601 UTC with millisecond precision
	TokenTimeLayout = "2006-01-02T15:04:05.000Z"

	// DefaultTokenValidity is the lifetime of an issued activation token
	DefaultTokenValidity = 365 * 24 * time.Hour
)

// Token is a decoded activation token
type Token struct {
	DeviceID    string
	AppID       string
	ActivatedAt time.Time
	ExpiresAt   time.Time
	Platform    string
	UserAgent   string
}

// Claims renders the token in its wire form
func (t Token) Claims() domain.TokenClaims {
	return domain.TokenClaims{
		DeviceID:    t.DeviceID,
		AppID:       t.AppID,
		ActivatedAt: formatTokenTime(t.ActivatedAt),
		ExpiresAt:   formatTokenTime(t.ExpiresAt),
		Platform:    t.Platform,
		UserAgent:   t.UserAgent,
	}
}

// TokenManager issues and validates activation tokens through a TokenCodec
type TokenManager struct {
	codec    TokenCodec
	validity time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *ActivationMetrics
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithClock overrides the time source
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithValidity overrides the token lifetime
func WithValidity(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.validity = d
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger.With(slog.String("component", "token_manager"))
		}
	}
}

// WithTokenMetrics records issue and validation counts
func WithTokenMetrics(metrics *ActivationMetrics) TokenOption {
	return func(m *TokenManager) { m.metrics = metrics }
}

// NewTokenManager creates a token manager. A nil codec selects OpaqueCodec.
func NewTokenManager(codec TokenCodec, opts ...TokenOption) *TokenManager {
	if codec == nil {
		codec = OpaqueCodec{}
	}
	m := &TokenManager{
		codec:    codec,
		validity: DefaultTokenValidity,
		now:      time.Now,
		logger:   slog.Default().With(slog.String("component", "token_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Format returns the codec name
func (m *TokenManager) Format() string {
	return m.codec.Format()
}

// Issue mints a token for info, valid from now for the configured validity
func (m *TokenManager) Issue(ctx context.Context, info domain.DeviceInfo) (string, Token, error) {
	activatedAt := m.now().UTC().Truncate(time.Millisecond)
	token := Token{
		DeviceID:    info.DeviceID,
		AppID:       info.AppID,
		ActivatedAt: activatedAt,
		ExpiresAt:   activatedAt.Add(m.validity),
		Platform:    info.Platform,
		UserAgent:   info.UserAgent,
	}

	encoded, err := m.codec.Encode(token.Claims())
	if err != nil {
		return "", Token{}, fmt.Errorf("failed to encode token: %w", err)
	}

	m.metrics.RecordTokenIssued(ctx, m.codec.Format())
	m.logger.DebugContext(ctx, "activation token issued",
		slog.String("device_id", token.DeviceID),
		slog.String("expires_at", formatTokenTime(token.ExpiresAt)),
	)

	return encoded, token, nil
}

// Validate decodes encoded and checks its expiry. A token is expired only when the
// current time is strictly after expiresAt.
func (m *TokenManager) Validate(ctx context.Context, encoded string) (Token, error) {
	token, err := m.validate(encoded)
	switch {
	case err == nil:
		m.metrics.RecordTokenValidation(ctx, "valid")
	case isExpired(err):
		m.metrics.RecordTokenValidation(ctx, "expired")
	default:
		m.metrics.RecordTokenValidation(ctx, "invalid")
	}
	return token, err
}

func (m *TokenManager) validate(encoded string) (Token, error) {
	claims, err := m.codec.Decode(encoded)
	if err != nil {
		return Token{}, &TokenInvalidError{Cause: err}
	}

	if claims.ExpiresAt == "" {
		return Token{}, &TokenInvalidError{Cause: fmt.Errorf("missing expiresAt")}
	}
	expiresAt, err := parseTokenTime(claims.ExpiresAt)
	if err != nil {
		return Token{}, &TokenInvalidError{Cause: fmt.Errorf("unparseable expiresAt: %w", err)}
	}

	// activatedAt is informational; an unparseable value leaves it zero
	activatedAt, _ := parseTokenTime(claims.ActivatedAt)

	token := Token{
		DeviceID:    claims.DeviceID,
		AppID:       claims.AppID,
		ActivatedAt: activatedAt,
		ExpiresAt:   expiresAt,
		Platform:    claims.Platform,
		UserAgent:   claims.UserAgent,
	}

	if m.now().After(expiresAt) {
		return token, &TokenExpiredError{ExpiresAt: claims.ExpiresAt}
	}

	return token, nil
}

func isExpired(err error) bool {
	_, ok := err.(*TokenExpiredError)
	return ok
}

func formatTokenTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TokenTimeLayout)
}

func parseTokenTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
