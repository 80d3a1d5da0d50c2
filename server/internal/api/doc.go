// Package api implements the HTTP REST API for the fleetscore server.
//
// New(deps, middleware...) returns an http.Handler built on gorilla/mux that
// serves:
//
//	GET  /api/v1/health                  overall state, device and alert counts
//	GET  /api/v1/fleet                   cached FleetSnapshot
//	POST /api/v1/fleet/refresh           synchronous refresh, returns RefreshReport
//	GET  /api/v1/devices                 all registered devices
//	GET  /api/v1/devices/{id}            one device; 404 if unknown
//	PUT  /api/v1/devices/{id}/status     {"status": "..."}
//	GET  /api/v1/devices/{id}/battery    battery health report with hints
//	GET  /api/v1/devices/{id}/history    stored battery points, ?hours=1..168 (default 24)
//	GET  /api/v1/scores/{id}             cached device score
//	POST /api/v1/scores                  batch scoring with per-id failure isolation
//	GET  /api/v1/weights                 all weight profiles
//	GET  /api/v1/weights/{id}            resolved profile (default fallback)
//	PUT  /api/v1/weights/{id}            replace a profile
//	POST /api/v1/weights/query           profiles for several ids
//	GET  /api/v1/alerts                  firing and recently resolved alerts
//	GET  /metrics                        Prometheus exposition
//
// All JSON endpoints respond with Content-Type: application/json and use
// {"error": "..."} bodies for failures. Handlers are wrapped in gorilla/handlers
// panic recovery and combined-format access logging routed to slog.
package api
