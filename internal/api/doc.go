// Package api implements the HTTP command API and telemetry WebSocket for
// an orchestrator node.
//
// This package provides:
//   - Read endpoints for running devices, their recorded history and the
//     command audit trail
//   - A command endpoint that feeds protocol command text to a device
//   - A WebSocket hub relaying device telemetry to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition at /metrics
//
// # Usage
//
//	server, err := api.New(api.Deps{Config: cfg.API, WS: cfg.WebSocket, Logger: log, Registry: reg})
//	server.Start(ctx)
//	defer server.Close()
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/system
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{name}
//	POST /api/v1/devices/{name}/commands   {"command": "SCHEDULE station-night"}
//	GET  /api/v1/devices/{name}/history?limit=50
//	GET  /api/v1/audit?device=&result=&limit=50&offset=0
//	GET  /api/v1/ws
//	GET  /metrics
//
// # Graceful Degradation
//
// Without a database the history and audit endpoints answer 503 and
// commands go unrecorded; every other route keeps working.
package api
