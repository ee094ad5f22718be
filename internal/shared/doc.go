// Package shared holds helpers used by more than one package of the activation
// server and its tools.
//
// The testutil subpackage provides:
//
//	- BufferedSlogHandler for asserting on structured log output
//	- ActivationFixture, a generated vendor key pair with a matching KeyStore
//	- Device and signature fixtures for the fixed development device
//
// Nothing here may be imported by production code.
package shared
