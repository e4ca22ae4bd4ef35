// Package http implements the HTTP handlers of the license daemon. Handlers
// stay thin: they decode and validate requests, call the license manager and
// render the result.
//
// # Endpoints
//
//	GET  /api/health                 liveness plus current lease state
//	GET  /api/health/ready           503 unless the lease grants access
//	GET  /api/license/status         detailed lease status
//	POST /api/license/activate       {"license_key": "..."}
//	POST /api/license/renew          attempt an online renewal
//	POST /api/license/deactivate     forget the lease on this machine
//	POST /api/license/version        {"version": "..."} best-effort report
//	GET  /api/license/fingerprint    machine fingerprint for support
//	GET  /metrics                    Prometheus scrape endpoint
//
// # Error Handling
//
// Failures are rendered as RFC 7807 problem details by errors.ErrorHandler.
// Activation failures carry their kind:
//
//	{
//	    "type": "/errors/license/device-conflict",
//	    "title": "Conflict",
//	    "status": 409,
//	    "detail": "This license key is already in use on another device.",
//	    "kind": "device_conflict",
//	    "error_code": "DEVICE_CONFLICT"
//	}
package http
