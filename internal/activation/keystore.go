package activation

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const (
	pemHeader = "-----BEGIN PUBLIC KEY-----"
	pemFooter = "-----END PUBLIC KEY-----"

	// minKeyLength is the shortest plausible PEM text for an RSA-2048 public key
	minKeyLength = 400
)

var base64Line = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// KeyStore owns the single public key used for all signature verification.
// The key is decoded, validated and parsed once, on first access, and re-checked
// against its checksum on every use.
type KeyStore struct {
	encoded          string
	expectedChecksum string

	once    sync.Once
	loadErr error

	mu       sync.RWMutex
	key      *rsa.PublicKey
	checksum string
	loaded   bool

	logger  *slog.Logger
	metrics *ActivationMetrics
}

// KeyStoreOption configures a KeyStore
type KeyStoreOption func(*KeyStore)

// WithKeyStoreLogger sets the logger used for security events
func WithKeyStoreLogger(logger *slog.Logger) KeyStoreOption {
	return func(ks *KeyStore) {
		if logger != nil {
			ks.logger = logger.With(slog.String("component", "keystore"))
		}
	}
}

// WithKeyStoreMetrics records security events on the given metrics
func WithKeyStoreMetrics(metrics *ActivationMetrics) KeyStoreOption {
	return func(ks *KeyStore) {
		ks.metrics = metrics
	}
}

// NewKeyStore creates a key store over a base64-encoded PEM blob and the expected
// SHA-256 hex digest of the decoded PEM text. Nothing is decoded until first access.
func NewKeyStore(encoded, expectedChecksum string, opts ...KeyStoreOption) *KeyStore {
	ks := &KeyStore{
		encoded:          encoded,
		expectedChecksum: strings.ToLower(strings.TrimSpace(expectedChecksum)),
		logger:           slog.Default().With(slog.String("component", "keystore")),
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// NewEmbeddedKeyStore creates a key store over the vendor key compiled into the binary
func NewEmbeddedKeyStore(opts ...KeyStoreOption) *KeyStore {
	return NewKeyStore(embeddedPublicKey, embeddedPublicKeyChecksum, opts...)
}

// Load decodes and validates the key. It runs once per store; later calls return the
// first outcome. A failed load is permanent for the store's lifetime.
func (ks *KeyStore) Load(ctx context.Context) error {
	ks.once.Do(func() {
		ks.loadErr = ks.load()
		if ks.loadErr != nil {
			ks.logger.ErrorContext(ctx, "public key load failed",
				slog.String("action", "key_load"),
				slog.String("error", ks.loadErr.Error()),
			)
			ks.metrics.RecordSecurityEvent(ctx, "key_load_failed")
			return
		}
		ks.logger.InfoContext(ctx, "public key loaded and validated",
			slog.String("action", "key_load"),
			slog.Int("key_bits", ks.key.N.BitLen()),
		)
	})
	return ks.loadErr
}

func (ks *KeyStore) load() error {
	content, err := ks.decode()
	if err != nil {
		return &KeyFormatError{Reason: "decode", Cause: err}
	}

	if err := validateKeyFormat(content); err != nil {
		return err
	}

	checksum := generateChecksum(content)
	if !checksumsEqual(checksum, ks.expectedChecksum) {
		return &KeyIntegrityError{}
	}

	key, err := parsePublicKey(content)
	if err != nil {
		return err
	}

	ks.mu.Lock()
	ks.key = key
	ks.checksum = checksum
	ks.loaded = true
	ks.mu.Unlock()

	return nil
}

// GetPublicKey returns the parsed key after re-validating its integrity.
// It fails with SecurityViolationError if the store never loaded, was wiped, or the
// encoded key no longer matches the expected checksum.
func (ks *KeyStore) GetPublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	if err := ks.Load(ctx); err != nil {
		return nil, &SecurityViolationError{Reason: "key not loaded", Cause: err}
	}

	ks.mu.RLock()
	key, loaded := ks.key, ks.loaded
	ks.mu.RUnlock()

	if !loaded || key == nil {
		ks.securityEvent(ctx, "key_unavailable")
		return nil, &SecurityViolationError{Reason: "public key not available"}
	}

	if err := ks.validateIntegrity(); err != nil {
		ks.securityEvent(ctx, "integrity_mismatch")
		return nil, err
	}

	return key, nil
}

// IsSecure reports whether the key is loaded and still matches its checksum.
// It never returns an error.
func (ks *KeyStore) IsSecure(ctx context.Context) bool {
	if err := ks.Load(ctx); err != nil {
		return false
	}
	if err := ks.validateIntegrity(); err != nil {
		return false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.loaded && ks.key != nil
}

// Wipe clears the key from memory. There is no way back: every later GetPublicKey
// fails. Wipe must not race with GetPublicKey callers.
func (ks *KeyStore) Wipe() {
	// Consume the once so a wipe before first use cannot be undone by a lazy load.
	ks.once.Do(func() {})

	ks.mu.Lock()
	ks.key = nil
	ks.checksum = ""
	ks.loaded = false
	ks.mu.Unlock()

	ks.logger.Warn("public key wiped from memory", slog.String("action", "key_wipe"))
}

// Fingerprint returns the checksum of the loaded key, or "" when unavailable
func (ks *KeyStore) Fingerprint() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.checksum
}

// validateIntegrity re-decodes the blob and compares its digest with the expected one
func (ks *KeyStore) validateIntegrity() error {
	content, err := ks.decode()
	if err != nil {
		return &SecurityViolationError{Reason: "key decode failed", Cause: err}
	}
	if !checksumsEqual(generateChecksum(content), ks.expectedChecksum) {
		return &SecurityViolationError{Reason: "key integrity check failed"}
	}
	return nil
}

func (ks *KeyStore) decode() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ks.encoded)
	if err != nil {
		return "", fmt.Errorf("key decoding failed: %w", err)
	}
	return string(raw), nil
}

func (ks *KeyStore) securityEvent(ctx context.Context, event string) {
	ks.logger.ErrorContext(ctx, "public key security check failed",
		slog.String("action", "key_access"),
		slog.String("event", event),
	)
	ks.metrics.RecordSecurityEvent(ctx, event)
}

// validateKeyFormat applies the structural checks on the decoded PEM text
func validateKeyFormat(content string) error {
	if !strings.Contains(content, pemHeader) || !strings.Contains(content, pemFooter) {
		return &KeyFormatError{Reason: "missing PEM header or footer"}
	}

	if len(content) < minKeyLength {
		return &KeyFormatError{Reason: fmt.Sprintf("key too short (%d < %d)", len(content), minKeyLength)}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "-----BEGIN") || strings.Contains(line, "-----END") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !base64Line.MatchString(trimmed) {
			return &KeyFormatError{Reason: "non-base64 content line"}
		}
	}

	return nil
}

func parsePublicKey(content string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(content))
	if block == nil {
		return nil, &KeyFormatError{Reason: "pem decode failed"}
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &KeyFormatError{Reason: "pkix parse failed", Cause: err}
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, &KeyFormatError{Reason: fmt.Sprintf("unsupported key type %T", pub)}
	}
	return key, nil
}

func generateChecksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func checksumsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
