package activation

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Every typed error below matches exactly one of these via errors.Is.
var (
	ErrKeyFormat          = errors.New("invalid public key format")
	ErrKeyIntegrity       = errors.New("key integrity verification failed")
	ErrSecurityViolation  = errors.New("security violation detected")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrFieldMismatch      = errors.New("field mismatch")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrAttemptsBlocked    = errors.New("too many failed activation attempts")
)

// KeyFormatError reports an embedded key that is not a plausible RSA public key PEM
type KeyFormatError struct {
	Reason string
	Cause  error
}

func (e *KeyFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrKeyFormat, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrKeyFormat, e.Reason)
}

func (e *KeyFormatError) Unwrap() error { return e.Cause }

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

// KeyIntegrityError reports a key whose digest differs from the expected checksum at load
type KeyIntegrityError struct{}

func (e *KeyIntegrityError) Error() string { return ErrKeyIntegrity.Error() }

func (e *KeyIntegrityError) Is(target error) bool { return target == ErrKeyIntegrity }

// SecurityViolationError is returned on key access when the store was wiped, never
// loaded, or the key no longer matches its checksum.
type SecurityViolationError struct {
	Reason string
	Cause  error
}

func (e *SecurityViolationError) Error() string {
	return ErrSecurityViolation.Error()
}

func (e *SecurityViolationError) Unwrap() error { return e.Cause }

func (e *SecurityViolationError) Is(target error) bool { return target == ErrSecurityViolation }

// MalformedSignatureError reports a signature envelope that cannot be parsed or decoded
type MalformedSignatureError struct {
	Cause error
}

func (e *MalformedSignatureError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return ErrMalformedSignature.Error()
}

func (e *MalformedSignatureError) Unwrap() error { return e.Cause }

func (e *MalformedSignatureError) Is(target error) bool { return target == ErrMalformedSignature }

// FieldMismatchError reports an envelope field that disagrees with the submitted DeviceInfo
type FieldMismatchError struct {
	Field string
}

func (e *FieldMismatchError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFieldMismatch, e.Field)
}

func (e *FieldMismatchError) Is(target error) bool { return target == ErrFieldMismatch }

// InvalidSignatureError reports a signature that does not verify against the public key
type InvalidSignatureError struct {
	Cause error
}

func (e *InvalidSignatureError) Error() string { return ErrInvalidSignature.Error() }

func (e *InvalidSignatureError) Unwrap() error { return e.Cause }

func (e *InvalidSignatureError) Is(target error) bool { return target == ErrInvalidSignature }

// TokenInvalidError reports a token that cannot be decoded or parsed
type TokenInvalidError struct {
	Cause error
}

func (e *TokenInvalidError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrTokenInvalid, e.Cause)
	}
	return ErrTokenInvalid.Error()
}

func (e *TokenInvalidError) Unwrap() error { return e.Cause }

func (e *TokenInvalidError) Is(target error) bool { return target == ErrTokenInvalid }

// TokenExpiredError reports a well-formed token past its expiry
type TokenExpiredError struct {
	ExpiresAt string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s at %s", ErrTokenExpired, e.ExpiresAt)
}

func (e *TokenExpiredError) Is(target error) bool { return target == ErrTokenExpired }

// AttemptsBlockedError is returned while an identifier is blocked by the AttemptGuard
type AttemptsBlockedError struct {
	RetryAfter time.Duration
}

func (e *AttemptsBlockedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrAttemptsBlocked, e.RetryAfter.Round(time.Second))
}

func (e *AttemptsBlockedError) Is(target error) bool { return target == ErrAttemptsBlocked }

// IsKeyError reports whether err originates from the key store
func IsKeyError(err error) bool {
	return errors.Is(err, ErrKeyFormat) || errors.Is(err, ErrKeyIntegrity) || errors.Is(err, ErrSecurityViolation)
}
