// Package app wires the activation server: configuration, logging, OpenTelemetry,
// the vendor key store, the attempt guard, the audit database, services and the
// chi router.
//
// # Initialization Flow
//
//	1. Load configuration (defaults, YAML, CARWASH_* environment)
//	2. Initialize logging and observability
//	3. Load the vendor public key; a bad key is logged and reported by readiness
//	4. Build the token manager, verifier, attempt guard and audit repository
//	5. Set up middleware and routes
//	6. Configure the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run stops on SIGINT, SIGTERM or context cancellation. Stop drains in-flight
// requests within the configured shutdown timeout, then closes the guard's
// cleanup loop and the audit database, wipes the cached key and flushes telemetry.
package app
