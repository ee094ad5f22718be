// Package http implements the HTTP handlers of the activation server. Handlers stay
// thin: they decode requests, call the service layer and render the result.
//
// # Routes
//
//	GET  /api/activation/status?deviceId=
//	POST /api/activation/activate
//	POST /api/activation/verify-token
//	GET  /api/activation/history?deviceId=&limit=   (API key when configured)
//	GET  /api/health, /api/health/ready, /api/health/live, /api/health/detailed
//	GET  /api/version
//	GET  /metrics
//
// # Response Shapes
//
// Activation outcomes are business results, not transport failures. A rejected
// signature is still HTTP 200 with {"success": false, "message": ...}. Only
// undecodable bodies (400), blocked clients (429) and infrastructure failures use
// RFC 7807 problem responses:
//
//	{
//	    "type": "/errors/activation/too-many-attempts",
//	    "title": "Too Many Activation Attempts",
//	    "status": 429,
//	    "detail": "Terlalu banyak percobaan aktivasi gagal. Silakan coba lagi nanti.",
//	    "instance": "/api/activation/activate",
//	    "retry_after": 900,
//	    "trace_id": "..."
//	}
//
// # Testing
//
// Handlers are tested with httptest against a testify mock of
// services.ActivationService, plus one pass through the real verifier.
package http
