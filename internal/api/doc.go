// Package api implements the admin-facing HTTP REST API and WebSocket server.
//
// This package provides:
//   - REST endpoints for the device fleet view, threshold updates, manual
//     pump starts, telemetry history, and the audit trail
//   - WebSocket hub for real-time telemetry and pump event broadcasts
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// The API server sits between dashboards and the controller. All writes go
// through the controller, which owns the authoritative store and the broker
// session; the server never talks to the broker directly. Live controller
// events fan out to WebSocket clients on per-type channels
// (device.telemetry, device.status, device.thresholds, device.manual_request).
//
// # Command Semantics
//
// POST /devices/{id}/pump/start returns 202 Accepted with a correlation id.
// Acceptance means the command was published, not that the pump started;
// clients follow the request state via GET /requests/{correlation_id} or
// the WebSocket feed. A second start while one is outstanding returns 409.
package api
