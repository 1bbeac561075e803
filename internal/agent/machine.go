package agent

import (
	"fmt"
	"time"

	"github.com/waterline-io/waterline-core/internal/wire"
)

// PumpState is the agent's authoritative pump state.
type PumpState string

const (
	// StateIdle means the pump is off.
	StateIdle PumpState = "IDLE"

	// StateRunning means the pump is draining the tank.
	StateRunning PumpState = "RUNNING"
)

// Machine is the autonomous control state machine.
//
// It owns the one authoritative Pump State in the system; everything the
// backend knows about the pump is a belief reconciled from the events this
// machine emits.
//
// The machine is not safe for concurrent use. The server drives it from a
// single control goroutine: one sampling tick interleaved with inbound
// channel messages, so no concurrent actuation is possible by construction.
type Machine struct {
	deviceID   string
	pump       Pump
	state      PumpState
	thresholds *wire.ThresholdSet
}

// NewMachine creates a machine at IDLE.
//
// cached carries the threshold set restored from the agent's local cache;
// nil means not yet provisioned, which disables autonomous transitions
// until the first threshold update arrives.
func NewMachine(deviceID string, pump Pump, cached *wire.ThresholdSet) *Machine {
	return &Machine{
		deviceID:   deviceID,
		pump:       pump,
		state:      StateIdle,
		thresholds: cached,
	}
}

// State returns the current pump state.
func (m *Machine) State() PumpState {
	return m.state
}

// Running reports whether the pump is currently running.
func (m *Machine) Running() bool {
	return m.state == StateRunning
}

// ThresholdVersion returns the version of the cached threshold set,
// or 0 when unprovisioned.
func (m *Machine) ThresholdVersion() uint64 {
	if m.thresholds == nil {
		return 0
	}
	return m.thresholds.Version
}

// Sample evaluates one sampling cycle at the given water level.
//
// Each cycle is the sole opportunity for autonomous transition evaluation.
// The comparison is level-triggered: a level at or beyond a threshold
// re-asserts the state on every sample but only the sample that actually
// crosses emits an event.
//
//   - IDLE, level >= max_level: pump on, PUMP_STARTED (no correlation id)
//   - RUNNING, level <= min_level: pump off, PUMP_STOPPED
//
// With no cached thresholds, autonomous transitions are disabled and only
// manual commands can drive the pump.
//
// Returns the telemetry sample reflecting the post-transition pump state,
// and the transition event if one occurred (nil otherwise). At most one
// transition happens per sample.
func (m *Machine) Sample(level float64, now time.Time) (*wire.Telemetry, *wire.StatusEvent, error) {
	var event *wire.StatusEvent

	if m.thresholds != nil {
		switch {
		case m.state == StateIdle && level >= m.thresholds.MaxLevel:
			if err := m.pump.Start(); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrPumpActuation, err)
			}
			m.state = StateRunning
			event = &wire.StatusEvent{
				DeviceID:  m.deviceID,
				EventKind: wire.EventPumpStarted,
				Timestamp: now,
			}

		case m.state == StateRunning && level <= m.thresholds.MinLevel:
			if err := m.pump.Stop(); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrPumpActuation, err)
			}
			m.state = StateIdle
			event = &wire.StatusEvent{
				DeviceID:  m.deviceID,
				EventKind: wire.EventPumpStopped,
				Timestamp: now,
			}
		}
	}

	telemetry := &wire.Telemetry{
		DeviceID:    m.deviceID,
		Timestamp:   now,
		WaterLevel:  level,
		PumpRunning: m.state == StateRunning,
	}
	return telemetry, event, nil
}

// HandleCommand processes a validated manual pump command.
//
// A manual start while already RUNNING is a no-op for actuation but still
// emits a confirming event carrying the command's correlation id, so the
// backend can clear its request flag (idempotent confirmation). Exactly
// one event is emitted per command either way.
func (m *Machine) HandleCommand(cmd *wire.PumpCommand, now time.Time) (*wire.StatusEvent, error) {
	if m.state == StateIdle {
		if err := m.pump.Start(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPumpActuation, err)
		}
		m.state = StateRunning
	}

	return &wire.StatusEvent{
		DeviceID:      m.deviceID,
		EventKind:     wire.EventPumpStarted,
		CorrelationID: cmd.CorrelationID,
		Timestamp:     now,
	}, nil
}

// ApplyThresholds replaces the cached threshold set wholesale.
//
// The set takes effect on the next sampling cycle; applying thresholds
// never itself triggers a transition. Re-applying the cached version is a
// no-op; an older version is rejected as stale so retransmissions cannot
// roll the cache backwards.
//
// Returns true if the cache changed.
func (m *Machine) ApplyThresholds(ts *wire.ThresholdSet) (bool, error) {
	if err := ts.Validate(); err != nil {
		return false, err
	}

	if m.thresholds != nil {
		if ts.Version == m.thresholds.Version {
			return false, nil
		}
		if ts.Version < m.thresholds.Version {
			return false, fmt.Errorf("%w: version %d behind cached %d",
				ErrStaleThresholds, ts.Version, m.thresholds.Version)
		}
	}

	cp := *ts
	m.thresholds = &cp
	return true, nil
}

// Snapshot reports the current device state for post-reconnect
// re-synchronisation.
func (m *Machine) Snapshot(level float64, now time.Time) *wire.Snapshot {
	return &wire.Snapshot{
		DeviceID:         m.deviceID,
		Timestamp:        now,
		WaterLevel:       level,
		PumpRunning:      m.state == StateRunning,
		ThresholdVersion: m.ThresholdVersion(),
	}
}
