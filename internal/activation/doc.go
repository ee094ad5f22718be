// Package activation implements offline device activation for the car-wash POS.
//
// # Components
//
//	- KeyStore: the vendor RSA public key, embedded as a checksummed blob and
//	  loaded once on first use
//	- Verifier: rebuilds the canonical signed message from a signature envelope
//	  and checks it against the submitted device
//	- TokenManager: issues and validates year-long activation tokens through an
//	  opaque or JWT codec
//	- AttemptGuard: blocks clients that keep submitting failing activations
//	- ActivationMetrics: OpenTelemetry instruments for all of the above
//
// # Verification Order
//
// Verify checks, in order, that the envelope parses, that its deviceId and appId
// match the device, and finally the RSA PKCS#1 v1.5 SHA-256 signature over
//
//	{"deviceId":...,"appId":...,"timestamp":...,"licenseType":...}
//
// Only deviceId, appId, timestamp and licenseType are covered by the signature.
// Any other DeviceInfo field can be changed without invalidating it.
//
// # Errors
//
// Every failure is a typed error matching one sentinel via errors.Is, so callers
// can map outcomes without string matching:
//
//	if errors.Is(err, activation.ErrInvalidSignature) { ... }
package activation
