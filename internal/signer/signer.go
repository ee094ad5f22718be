// Package signer is the vendor-side toolkit for offline activation. It generates the
// RSA key pair, produces the blob and checksum embedded in the server, and signs
// device activation envelopes with the same canonical message the server verifies.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"carwash/internal/activation"
	"carwash/pkg/contracts/domain"
)

// DefaultKeyBits matches the embedded vendor key
const DefaultKeyBits = 2048

// KeyPair is a freshly generated signing key with both PEM encodings
type KeyPair struct {
	Private    *rsa.PrivateKey
	PrivatePEM []byte // PKCS#1
	PublicPEM  []byte // PKIX with CRLF line endings
}

// GenerateKeyPair creates an RSA key with e=65537
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < DefaultKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, DefaultKeyBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	publicPEM, err := PublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return &KeyPair{
		Private:    priv,
		PrivatePEM: toCRLF(privatePEM),
		PublicPEM:  publicPEM,
	}, nil
}

// PublicKeyPEM renders pub as PKIX PEM with CRLF line endings
func PublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return toCRLF(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncodePublicKey returns the blob and checksum to embed for publicPEM
func EncodePublicKey(publicPEM []byte) (blob, checksum string) {
	sum := sha256.Sum256(publicPEM)
	return base64.StdEncoding.EncodeToString(publicPEM), hex.EncodeToString(sum[:])
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA private key PEM file
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 RSA private key PEM
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// Claims are the values a vendor signs for one device
type Claims struct {
	DeviceID    string
	AppID       string
	Timestamp   int64 // unix milliseconds
	LicenseType string
}

// Sign produces a signature envelope for claims
func Sign(priv *rsa.PrivateKey, claims Claims) (domain.SignatureEnvelope, error) {
	if claims.DeviceID == "" || claims.AppID == "" {
		return domain.SignatureEnvelope{}, errors.New("device id and app id are required")
	}

	env := domain.SignatureEnvelope{
		DeviceID:    claims.DeviceID,
		AppID:       claims.AppID,
		Timestamp:   json.RawMessage(strconv.FormatInt(claims.Timestamp, 10)),
		LicenseType: domain.LicenseTypeValue(claims.LicenseType),
	}

	message, err := activation.CanonicalMessage(env)
	if err != nil {
		return domain.SignatureEnvelope{}, err
	}

	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return domain.SignatureEnvelope{}, fmt.Errorf("failed to sign activation message: %w", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	return env, nil
}

// VerifyEnvelope checks env against pub using the server's canonical message
func VerifyEnvelope(pub *rsa.PublicKey, env domain.SignatureEnvelope) error {
	message, err := activation.CanonicalMessage(env)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return &activation.MalformedSignatureError{Cause: err}
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return &activation.InvalidSignatureError{Cause: err}
	}
	return nil
}

// LoadPublicKey reads a PKIX public key PEM file
func LoadPublicKey(path string) (*rsa.PublicKey, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported public key type %T", key)
	}
	return pub, data, nil
}

// ReadEnvelope loads a .sig file
func ReadEnvelope(path string) (domain.SignatureEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.SignatureEnvelope{}, fmt.Errorf("failed to read signature file: %w", err)
	}
	return activation.ParseEnvelope(data)
}

// MarshalEnvelope renders env as the pretty-printed .sig file body
func MarshalEnvelope(env domain.SignatureEnvelope) ([]byte, error) {
	return json.MarshalIndent(env, "", "  ")
}

// WriteEnvelope writes env to path as a .sig file
func WriteEnvelope(path string, env domain.SignatureEnvelope) error {
	data, err := MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode signature file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write signature file: %w", err)
	}
	return nil
}

// ReadMachineFile loads the DeviceInfo a POS wrote with `activation-client machine-info`
func ReadMachineFile(path string) (domain.DeviceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DeviceInfo{}, fmt.Errorf("failed to read machine file: %w", err)
	}
	var info domain.DeviceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.DeviceInfo{}, fmt.Errorf("failed to parse machine file: %w", err)
	}
	return info, nil
}

// CurlCommand returns a ready-to-run activation request for env, for manual testing
func CurlCommand(baseURL string, info domain.DeviceInfo, env domain.SignatureEnvelope) (string, error) {
	sig, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(domain.ActivationRequest{DeviceInfo: &info, Signature: string(sig)})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`curl -X POST %s/api/activation/activate -H "Content-Type: application/json" -d '%s'`,
		strings.TrimRight(baseURL, "/"), body), nil
}

func toCRLF(data []byte) []byte {
	return []byte(strings.ReplaceAll(string(data), "\n", "\r\n"))
}
