// Package bridge implements the store-and-forward relay between the
// device agent's short-range channel and the MQTT broker.
//
// The bridge performs no business logic. It decodes messages only to
// validate and route them, then re-encodes for the other transport:
// device telemetry and status events go up to per-device broker topics,
// threshold updates and manual pump commands come down to the link.
//
// Each direction has an independent connection lifecycle. When one side
// is down its traffic accumulates in a bounded drop-oldest buffer and
// flushes on reconnect in original order, with two refinements:
//
//   - buffered telemetry older than the staleness window is discarded at
//     broker reconnect (status events are always replayed)
//   - after a link reconnect the bridge requests a device snapshot before
//     replaying buffered commands, so the backend's belief is refreshed
//     from reality rather than assumption
//
// The bridge authenticates to the broker with the device's provisioned
// credential pair and exposes Prometheus metrics describing every message
// it relayed, buffered, or dropped.
package bridge
