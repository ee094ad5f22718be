package config

import "time"

// Application constants
const (
	AppName   = "Carwash Management"
	EnvPrefix = "CARWASH"

	DefaultServerPort     = 3001
	DefaultRequestTimeout = 30 * time.Second
	DefaultHTTPTimeout    = 10 * time.Second

	// Rate limiting
	DefaultRateLimit = 20 // requests per second
	DefaultBurstSize = 40

	// Activation
	TokenValidity        = 365 * 24 * time.Hour
	MinTokenSecretLength = 32
	MaxFailedAttempts    = 5
	FailureWindow        = 10 * time.Minute
	BlockDuration        = 15 * time.Minute

	// Logging
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
