// Package domain contains the wire contracts shared by the activation server, the POS
// client and the offline signer. These types are the single source of truth for all layers.
package domain

import (
	"encoding/json"
	"time"
)

// AppID is the fixed application identifier baked into every device and signature.
const AppID = "carwash-mgmt"

// DeviceInfo describes one POS installation. It is written to the machine-info file and
// submitted alongside the signature during activation.
type DeviceInfo struct {
	DeviceID            string `json:"deviceId"`
	AppID               string `json:"appId"`
	Timestamp           int64  `json:"timestamp"` // unix milliseconds
	UserAgent           string `json:"userAgent"`
	Platform            string `json:"platform"`
	Language            string `json:"language"`
	ScreenResolution    string `json:"screenResolution"`
	Timezone            string `json:"timezone"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
}

// SignatureEnvelope is the signed claim produced offline by the vendor.
// Timestamp and LicenseType are kept raw so the canonical message can tell an
// absent key from an explicit null.
type SignatureEnvelope struct {
	Signature   string          `json:"signature" validate:"required,base64"`
	DeviceID    string          `json:"deviceId" validate:"required"`
	AppID       string          `json:"appId" validate:"required"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty" validate:"required"`
	LicenseType json.RawMessage `json:"licenseType,omitempty" validate:"required"`
}

// License returns the license type, or "" when it is absent, null or not a string
func (e SignatureEnvelope) License() string {
	var lt string
	if len(e.LicenseType) == 0 || json.Unmarshal(e.LicenseType, &lt) != nil {
		return ""
	}
	return lt
}

// LicenseTypeValue encodes lt for SignatureEnvelope.LicenseType
func LicenseTypeValue(lt string) json.RawMessage {
	raw, _ := json.Marshal(lt)
	return raw
}

// License categories known to the vendor tooling
const (
	LicenseTypeStandard   = "STANDARD"
	LicenseTypePremium    = "PREMIUM"
	LicenseTypeEnterprise = "ENTERPRISE"
)

// ActivationRequest is the body of POST /api/activation/activate.
// Signature holds the envelope as a JSON string, exactly as read from the .sig file.
type ActivationRequest struct {
	DeviceInfo *DeviceInfo `json:"deviceInfo"`
	Signature  string      `json:"signature"`
}

// ActivationResponse is returned by the activate endpoint
type ActivationResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ActivationToken string `json:"activationToken,omitempty"`
	LicenseType     string `json:"licenseType,omitempty"`
}

// ActivationStatusResponse is returned by the status endpoint
type ActivationStatusResponse struct {
	IsActivated bool   `json:"isActivated"`
	Message     string `json:"message"`
}

// VerifyTokenRequest is the body of POST /api/activation/verify-token
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyTokenResponse is returned by the verify-token endpoint
type VerifyTokenResponse struct {
	Success bool         `json:"success"`
	Valid   bool         `json:"valid,omitempty"`
	Message string       `json:"message,omitempty"`
	Data    *TokenClaims `json:"data,omitempty"`
}

// TokenClaims is the decoded payload of an activation token
type TokenClaims struct {
	DeviceID    string `json:"deviceId"`
	AppID       string `json:"appId"`
	ActivatedAt string `json:"activatedAt"`
	ExpiresAt   string `json:"expiresAt"`
	Platform    string `json:"platform"`
	UserAgent   string `json:"userAgent"`
}

// FailureResponse is the uniform { success: false, message } payload
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActivationRecord is one audited activation attempt
type ActivationRecord struct {
	ID          string    `json:"id" db:"id"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	AppID       string    `json:"app_id" db:"app_id"`
	LicenseType string    `json:"license_type,omitempty" db:"license_type"`
	Success     bool      `json:"success" db:"success"`
	Reason      string    `json:"reason" db:"reason"`
	Message     string    `json:"message" db:"message"`
	RemoteAddr  string    `json:"remote_addr,omitempty" db:"remote_addr"`
	RequestID   string    `json:"request_id,omitempty" db:"request_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ActivationHistoryResponse is returned by the history endpoint
type ActivationHistoryResponse struct {
	Success bool               `json:"success"`
	Records []ActivationRecord `json:"records"`
}

// Activation outcome reason codes used in audit records and metrics
const (
	ReasonActivated        = "activated"
	ReasonMissingFields    = "missing_fields"
	ReasonMalformed        = "malformed_signature"
	ReasonDeviceMismatch   = "device_mismatch"
	ReasonAppMismatch      = "app_mismatch"
	ReasonInvalidSignature = "invalid_signature"
	ReasonKeyUnavailable   = "key_unavailable"
	ReasonBlocked          = "blocked"
	ReasonError            = "error"
)
