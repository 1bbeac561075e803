// Package agent implements the device-side autonomous control loop.
//
// The agent owns the one authoritative pump state in the system. A single
// cooperative loop samples the water level on a fixed period, evaluates
// the cached threshold set, actuates the drain pump, and emits status
// events over the short-range channel to the attached bridge:
//
//   - level >= max_level while IDLE: pump on, PUMP_STARTED
//   - level <= min_level while RUNNING: pump off, PUMP_STOPPED
//
// Manual start commands from the backend drive the same state machine and
// are confirmed idempotently: a start received while already running emits
// the confirmation without touching the pump.
//
// The agent keeps operating through any bridge or broker outage; its
// last-known thresholds persist in a local cache file and are restored on
// restart. Until thresholds arrive for the first time, autonomous
// transitions are disabled and only manual commands can drive the pump.
package agent
