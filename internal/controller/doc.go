// Package controller is the backend reconciliation loop.
//
// It ingests telemetry and status events from the broker wildcard topics,
// persists the backend's belief about each device in SQLite, and owns the
// two admin-facing write paths: wholesale threshold replacement and manual
// pump starts.
//
// The device is always authoritative for pump state. The controller never
// assumes a command acted; it waits for a status event carrying the
// command's correlation id. Manual requests are serialised per device by
// an in-memory flag: a second request while one is outstanding fails with
// ErrConflict, and a request unconfirmed within the configured window is
// auto-cleared and surfaced as unconfirmed rather than failed, because
// the command may still be buffered on a disconnected bridge.
//
// Thresholds are versioned monotonically and published retained, so a
// device reconnecting after any outage converges on the latest set.
package controller
