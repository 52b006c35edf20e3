// Package api implements the local HTTP and WebSocket surface of tbdash.
//
// This package provides:
//   - JSON endpoints over the ThingsBoard client (auth, devices, telemetry,
//     history, RPC) so a browser UI never holds backend tokens itself
//   - The dashboard view and its manual refresh
//   - Pump commands and pool overlays applied to the dashboard state
//   - A WebSocket hub pushing "dashboard.updated" after every refresh
//   - Prometheus metrics at /api/v1/metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, metrics)
//
// # Errors
//
// Backend failures map to HTTP statuses by kind:
//
//	*thingsboard.ValidationError  400 validation_error
//	*thingsboard.AuthError        401 unauthorised
//	*thingsboard.RequestError     404 not_found when the backend said 404, else 502 bad_gateway
//	*thingsboard.NetworkError     504 gateway_timeout
//
// # Security
//
// The server acts with the session held by the process. It binds to
// 127.0.0.1 by default and has no authentication of its own.
package api
