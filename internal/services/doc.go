// Package services holds the use-case layer between the HTTP handlers and the
// activation core.
//
// ActivationService orchestrates one activation attempt: the attempt guard is
// consulted first, then the request fields, then the signature verifier. Every
// outcome is counted in the activation metrics and, when an audit store is
// configured, written as an ActivationRecord. Rejected activations are returned as
// unsuccessful responses carrying the localized message; Go errors are reserved
// for blocked clients and infrastructure faults.
//
// HealthService answers liveness and readiness. Readiness requires the activation
// public key to be loaded and intact, and the audit database to answer a ping
// when one is configured.
//
// Services are tested against mocks of their small dependency interfaces:
//
//	verifier := new(MockVerifier)
//	verifier.On("Verify", mock.Anything, info, sig).Return(result, nil)
//	svc := NewActivationService(verifier, tokens, logger)
package services
