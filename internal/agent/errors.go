package agent

import "errors"

// Sentinel errors for agent operations.
var (
	// ErrSensorRead indicates the level sensor could not produce a reading.
	ErrSensorRead = errors.New("agent: sensor read failed")

	// ErrPumpActuation indicates the pump relay could not be switched.
	ErrPumpActuation = errors.New("agent: pump actuation failed")

	// ErrStaleThresholds indicates a threshold set older than the cached one.
	ErrStaleThresholds = errors.New("agent: stale threshold version")
)
