package activation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"carwash/pkg/contracts/domain"
)

// PublicKeyProvider supplies the verification key. *KeyStore implements it.
type PublicKeyProvider interface {
	GetPublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// VerificationResult is returned for a signature that verified
type VerificationResult struct {
	LicenseType string
	Token       string
	Claims      domain.TokenClaims
}

// canonicalMessage fixes the key order of the signed payload. Keys absent from
// the envelope are omitted; an explicit null is kept.
type canonicalMessage struct {
	DeviceID    string          `json:"deviceId"`
	AppID       string          `json:"appId"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	LicenseType json.RawMessage `json:"licenseType,omitempty"`
}

// CanonicalMessage builds the exact bytes the vendor signs for an envelope:
// compact JSON of deviceId, appId, timestamp and licenseType in that order,
// serialized the way JSON.stringify does it.
func CanonicalMessage(env domain.SignatureEnvelope) ([]byte, error) {
	timestamp, err := canonicalValue(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	licenseType, err := canonicalValue(env.LicenseType)
	if err != nil {
		return nil, fmt.Errorf("invalid licenseType: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalMessage{
		DeviceID:    env.DeviceID,
		AppID:       env.AppID,
		Timestamp:   timestamp,
		LicenseType: licenseType,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode canonical message: %w", err)
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// canonicalValue re-serializes one raw envelope value. Strings and numbers are
// decoded and printed again; everything else is compacted.
func canonicalValue(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(s); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
	case c == '-' || (c >= '0' && c <= '9'):
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return json.RawMessage(formatJSNumber(f)), nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// formatJSNumber prints f like JavaScript's Number.prototype.toString
func formatJSNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// unescapeLineSeparators writes U+2028 and U+2029 literally. encoding/json
// always escapes them and JSON.stringify never does.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+5 < len(b) {
			switch string(b[i+2 : i+6]) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// Verifier checks offline-signed activation envelopes against the device that submitted them
type Verifier struct {
	keys   PublicKeyProvider
	tokens *TokenManager
	logger *slog.Logger
}

// NewVerifier creates a verifier. Tokens for verified devices are minted by tokens.
func NewVerifier(keys PublicKeyProvider, tokens *TokenManager, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		keys:   keys,
		tokens: tokens,
		logger: logger.With(slog.String("component", "verifier")),
	}
}

// Verify checks envelopeJSON against info and, on success, issues an activation token.
// The checks run in a fixed order: parse, deviceId, appId, then the RSA signature.
func (v *Verifier) Verify(ctx context.Context, info domain.DeviceInfo, envelopeJSON string) (*VerificationResult, error) {
	return TraceVerification(ctx, info.DeviceID, func(ctx context.Context) (*VerificationResult, error) {
		return v.verify(ctx, info, envelopeJSON)
	})
}

func (v *Verifier) verify(ctx context.Context, info domain.DeviceInfo, envelopeJSON string) (*VerificationResult, error) {
	env, err := ParseEnvelope([]byte(envelopeJSON))
	if err != nil {
		return nil, err
	}

	if env.DeviceID != info.DeviceID {
		return nil, &FieldMismatchError{Field: "deviceId"}
	}
	if env.AppID != info.AppID {
		return nil, &FieldMismatchError{Field: "appId"}
	}

	message, err := CanonicalMessage(env)
	if err != nil {
		return nil, &MalformedSignatureError{Cause: err}
	}

	signature, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, &MalformedSignatureError{Cause: fmt.Errorf("signature is not valid base64: %w", err)}
	}

	key, err := v.keys.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		v.logger.WarnContext(ctx, "signature rejected",
			slog.String("device_id", info.DeviceID),
		)
		return nil, &InvalidSignatureError{Cause: err}
	}

	licenseType := env.License()

	encoded, token, err := v.tokens.Issue(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to issue activation token: %w", err)
	}

	v.logger.InfoContext(ctx, "signature verified",
		slog.String("device_id", info.DeviceID),
		slog.String("license_type", licenseType),
	)

	return &VerificationResult{
		LicenseType: licenseType,
		Token:       encoded,
		Claims:      token.Claims(),
	}, nil
}

// ParseEnvelope decodes a signature file body
func ParseEnvelope(data []byte) (domain.SignatureEnvelope, error) {
	var env domain.SignatureEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.SignatureEnvelope{}, &MalformedSignatureError{Cause: err}
	}
	return env, nil
}
