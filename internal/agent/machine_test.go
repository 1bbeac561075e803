package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/waterline-io/waterline-core/internal/wire"
)

// recordingPump counts actuations and can be made to fail.
type recordingPump struct {
	starts  int
	stops   int
	failErr error
}

func (p *recordingPump) Start() error {
	if p.failErr != nil {
		return p.failErr
	}
	p.starts++
	return nil
}

func (p *recordingPump) Stop() error {
	if p.failErr != nil {
		return p.failErr
	}
	p.stops++
	return nil
}

func testThresholds() *wire.ThresholdSet {
	return &wire.ThresholdSet{MinLevel: 10, MaxLevel: 50, Version: 1}
}

// ============================================================================
// Autonomous Transitions
// ============================================================================

func TestSample_HighLevelStartsPumpOnce(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())
	now := time.Now().UTC()

	telemetry, event, err := m.Sample(55, now)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want RUNNING", m.State())
	}
	if event == nil || event.EventKind != wire.EventPumpStarted {
		t.Fatalf("event = %+v, want PUMP_STARTED", event)
	}
	if event.CorrelationID != "" {
		t.Errorf("autonomous event carries correlation_id %q", event.CorrelationID)
	}
	if !telemetry.PumpRunning {
		t.Error("telemetry should reflect post-transition pump state")
	}
	if pump.starts != 1 {
		t.Errorf("pump starts = %d, want 1", pump.starts)
	}

	// Level still at the extreme: state re-asserted, no redundant event.
	_, event, err = m.Sample(60, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if event != nil {
		t.Errorf("repeated extreme sample emitted event %+v", event)
	}
	if pump.starts != 1 {
		t.Errorf("pump starts = %d after repeat sample, want 1", pump.starts)
	}
}

func TestSample_LowLevelStopsPump(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())
	now := time.Now().UTC()

	if _, _, err := m.Sample(55, now); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}

	_, event, err := m.Sample(8, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want IDLE", m.State())
	}
	if event == nil || event.EventKind != wire.EventPumpStopped {
		t.Fatalf("event = %+v, want PUMP_STOPPED", event)
	}
	if pump.stops != 1 {
		t.Errorf("pump stops = %d, want 1", pump.stops)
	}
}

func TestSample_MidBandIsQuiescent(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())

	for _, level := range []float64{30, 25, 40, 11, 49} {
		_, event, err := m.Sample(level, time.Now().UTC())
		if err != nil {
			t.Fatalf("Sample(%v) error = %v", level, err)
		}
		if event != nil {
			t.Errorf("Sample(%v) emitted event %+v", level, event)
		}
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", m.State())
	}
}

func TestSample_UnprovisionedDisablesAutonomy(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, nil)

	_, event, err := m.Sample(95, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if event != nil {
		t.Errorf("unprovisioned machine emitted event %+v", event)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", m.State())
	}
	if pump.starts != 0 {
		t.Errorf("pump actuated %d times without thresholds", pump.starts)
	}
}

func TestSample_PumpFailureLeavesStateUnchanged(t *testing.T) {
	pump := &recordingPump{failErr: errors.New("relay stuck")}
	m := NewMachine("tank-01", pump, testThresholds())

	_, _, err := m.Sample(55, time.Now().UTC())
	if !errors.Is(err, ErrPumpActuation) {
		t.Fatalf("error = %v, want ErrPumpActuation", err)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s after failed actuation, want IDLE", m.State())
	}
}

// ============================================================================
// Manual Commands
// ============================================================================

func TestHandleCommand_StartsIdlePump(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())

	cmd := &wire.PumpCommand{Command: wire.CommandStart, CorrelationID: "corr-1"}
	event, err := m.HandleCommand(cmd, time.Now().UTC())
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want RUNNING", m.State())
	}
	if event.EventKind != wire.EventPumpStarted {
		t.Errorf("event kind = %s, want PUMP_STARTED", event.EventKind)
	}
	if event.CorrelationID != "corr-1" {
		t.Errorf("correlation_id = %q, want corr-1", event.CorrelationID)
	}
	if pump.starts != 1 {
		t.Errorf("pump starts = %d, want 1", pump.starts)
	}
}

func TestHandleCommand_WhileRunningConfirmsWithoutActuation(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())

	first := &wire.PumpCommand{Command: wire.CommandStart, CorrelationID: "corr-1"}
	if _, err := m.HandleCommand(first, time.Now().UTC()); err != nil {
		t.Fatalf("first HandleCommand() error = %v", err)
	}

	second := &wire.PumpCommand{Command: wire.CommandStart, CorrelationID: "corr-2"}
	event, err := m.HandleCommand(second, time.Now().UTC())
	if err != nil {
		t.Fatalf("second HandleCommand() error = %v", err)
	}
	if event.CorrelationID != "corr-2" {
		t.Errorf("correlation_id = %q, want corr-2", event.CorrelationID)
	}
	if pump.starts != 1 {
		t.Errorf("pump starts = %d, want 1 (no re-actuation)", pump.starts)
	}
	if m.State() != StateRunning {
		t.Errorf("state = %s, want RUNNING", m.State())
	}
}

func TestHandleCommand_WorksUnprovisioned(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, nil)

	cmd := &wire.PumpCommand{Command: wire.CommandStart, CorrelationID: "corr-1"}
	if _, err := m.HandleCommand(cmd, time.Now().UTC()); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Errorf("state = %s, want RUNNING", m.State())
	}
}

// ============================================================================
// Threshold Updates
// ============================================================================

func TestApplyThresholds_ReplacesWholesale(t *testing.T) {
	m := NewMachine("tank-01", &recordingPump{}, testThresholds())

	applied, err := m.ApplyThresholds(&wire.ThresholdSet{MinLevel: 20, MaxLevel: 80, Version: 2})
	if err != nil {
		t.Fatalf("ApplyThresholds() error = %v", err)
	}
	if !applied {
		t.Fatal("ApplyThresholds() = false, want true")
	}
	if m.ThresholdVersion() != 2 {
		t.Errorf("version = %d, want 2", m.ThresholdVersion())
	}

	// New bounds govern the next sample: 55 was above the old max but is
	// inside the new band.
	_, event, err := m.Sample(55, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if event != nil {
		t.Errorf("sample inside new band emitted event %+v", event)
	}
}

func TestApplyThresholds_SameVersionIsNoOp(t *testing.T) {
	m := NewMachine("tank-01", &recordingPump{}, testThresholds())

	applied, err := m.ApplyThresholds(testThresholds())
	if err != nil {
		t.Fatalf("ApplyThresholds() error = %v", err)
	}
	if applied {
		t.Error("re-applying the cached version should be a no-op")
	}
}

func TestApplyThresholds_RejectsStaleVersion(t *testing.T) {
	m := NewMachine("tank-01", &recordingPump{},
		&wire.ThresholdSet{MinLevel: 10, MaxLevel: 50, Version: 5})

	_, err := m.ApplyThresholds(&wire.ThresholdSet{MinLevel: 20, MaxLevel: 80, Version: 3})
	if !errors.Is(err, ErrStaleThresholds) {
		t.Fatalf("error = %v, want ErrStaleThresholds", err)
	}
	if m.ThresholdVersion() != 5 {
		t.Errorf("version = %d, want 5 (unchanged)", m.ThresholdVersion())
	}
}

func TestApplyThresholds_RejectsInvalidBounds(t *testing.T) {
	m := NewMachine("tank-01", &recordingPump{}, testThresholds())

	_, err := m.ApplyThresholds(&wire.ThresholdSet{MinLevel: 80, MaxLevel: 20, Version: 2})
	if !errors.Is(err, wire.ErrInvalidThreshold) {
		t.Fatalf("error = %v, want wire.ErrInvalidThreshold", err)
	}
	if m.ThresholdVersion() != 1 {
		t.Errorf("version = %d, want 1 (unchanged)", m.ThresholdVersion())
	}
}

func TestApplyThresholds_NeverTriggersTransition(t *testing.T) {
	pump := &recordingPump{}
	m := NewMachine("tank-01", pump, testThresholds())

	// Sample at 45: inside the band, no transition.
	if _, _, err := m.Sample(45, time.Now().UTC()); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}

	// New max below the last level. The update itself must not actuate.
	if _, err := m.ApplyThresholds(&wire.ThresholdSet{MinLevel: 10, MaxLevel: 40, Version: 2}); err != nil {
		t.Fatalf("ApplyThresholds() error = %v", err)
	}
	if pump.starts != 0 {
		t.Fatalf("threshold update actuated the pump")
	}

	// The next sample applies the new comparison values.
	_, event, err := m.Sample(45, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if event == nil || event.EventKind != wire.EventPumpStarted {
		t.Fatalf("event = %+v, want PUMP_STARTED on next sample", event)
	}
}

// ============================================================================
// Snapshot
// ============================================================================

func TestSnapshot_ReportsCurrentState(t *testing.T) {
	m := NewMachine("tank-01", &recordingPump{}, testThresholds())
	now := time.Now().UTC()

	if _, _, err := m.Sample(55, now); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}

	snap := m.Snapshot(52, now)
	if snap.DeviceID != "tank-01" {
		t.Errorf("device_id = %q, want tank-01", snap.DeviceID)
	}
	if !snap.PumpRunning {
		t.Error("snapshot should report pump running")
	}
	if snap.WaterLevel != 52 {
		t.Errorf("water_level = %v, want 52", snap.WaterLevel)
	}
	if snap.ThresholdVersion != 1 {
		t.Errorf("threshold_version = %d, want 1", snap.ThresholdVersion)
	}
}
