// Package wire defines the device-control messaging protocol shared by the
// agent, the bridge, and the backend controller.
//
// Four message kinds cross the system boundary: telemetry samples and status
// events flow from the device to the backend; threshold sets and pump
// commands flow the other way. Two further kinds (snapshot request/reply)
// exist only on the short-range channel, where the bridge uses them to
// re-synchronise after a reconnect.
//
// Encoding is JSON on both transports. The short-range channel carries an
// envelope with an explicit kind because it is a single stream; broker
// payloads are bare because the topic identifies the kind.
//
// Validation lives here so every boundary applies the same rules: malformed
// payloads surface as ErrMalformedMessage and are dropped by the caller,
// threshold sets with min >= max surface as ErrInvalidThreshold.
package wire
