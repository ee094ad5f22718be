package activation

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"carwash/pkg/contracts/domain"
)

// Token formats
const (
	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"
)

// TokenCodec turns token claims into a transportable string and back
type TokenCodec interface {
	Format() string
	Encode(claims domain.TokenClaims) (string, error)
	Decode(encoded string) (domain.TokenClaims, error)
}

// NewCodec returns the codec for a configured format
func NewCodec(format, secret string) (TokenCodec, error) {
	switch strings.ToLower(format) {
	case "", TokenFormatOpaque:
		return OpaqueCodec{}, nil
	case TokenFormatJWT:
		return NewJWTCodec(secret)
	default:
		return nil, fmt.Errorf("unknown token format %q", format)
	}
}

// OpaqueCodec encodes claims as base64 of their JSON. It carries no signature:
// anyone can mint a token that decodes.
type OpaqueCodec struct{}

func (OpaqueCodec) Format() string { return TokenFormatOpaque }

func (OpaqueCodec) Encode(claims domain.TokenClaims) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(claims); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func (OpaqueCodec) Decode(encoded string) (domain.TokenClaims, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// tolerate stripped padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return domain.TokenClaims{}, fmt.Errorf("token is not base64: %w", err)
		}
	}
	var claims domain.TokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return domain.TokenClaims{}, fmt.Errorf("token payload is not JSON: %w", err)
	}
	return claims, nil
}

const jwtKeyInfo = "carwash-activation-token-v1"

// jwtClaims carries the activation claims next to the registered ones
type jwtClaims struct {
	DeviceID  string `json:"deviceId"`
	AppID     string `json:"appId"`
	Activated string `json:"activatedAt"`
	Expires   string `json:"expiresAt"`
	Platform  string `json:"platform"`
	UserAgent string `json:"userAgent"`
	jwt.RegisteredClaims
}

// JWTCodec encodes claims as an HS256 JWT keyed from a shared secret
type JWTCodec struct {
	key []byte
}

// NewJWTCodec derives the HMAC key from secret with HKDF-SHA256
func NewJWTCodec(secret string) (*JWTCodec, error) {
	if secret == "" {
		return nil, errors.New("jwt token format requires a secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(jwtKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return &JWTCodec{key: key}, nil
}

func (c *JWTCodec) Format() string { return TokenFormatJWT }

func (c *JWTCodec) Encode(claims domain.TokenClaims) (string, error) {
	registered := jwt.RegisteredClaims{
		Subject: claims.DeviceID,
		Issuer:  domain.AppID,
	}
	if t, err := parseTokenTime(claims.ActivatedAt); err == nil {
		registered.IssuedAt = jwt.NewNumericDate(t)
	}
	if t, err := parseTokenTime(claims.ExpiresAt); err == nil {
		registered.ExpiresAt = jwt.NewNumericDate(t)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		DeviceID:         claims.DeviceID,
		AppID:            claims.AppID,
		Activated:        claims.ActivatedAt,
		Expires:          claims.ExpiresAt,
		Platform:         claims.Platform,
		UserAgent:        claims.UserAgent,
		RegisteredClaims: registered,
	})
	return token.SignedString(c.key)
}

// Decode checks the signature only. Expiry is judged by TokenManager on the
// millisecond expiresAt claim, so library claim validation is off.
func (c *JWTCodec) Decode(encoded string) (domain.TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var claims jwtClaims
	if _, err := parser.ParseWithClaims(encoded, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	}); err != nil {
		return domain.TokenClaims{}, fmt.Errorf("token signature invalid: %w", err)
	}

	return domain.TokenClaims{
		DeviceID:    claims.DeviceID,
		AppID:       claims.AppID,
		ActivatedAt: claims.Activated,
		ExpiresAt:   claims.Expires,
		Platform:    claims.Platform,
		UserAgent:   claims.UserAgent,
	}, nil
}
