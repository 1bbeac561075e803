package agent

import (
	"errors"
	"testing"

	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
)

// stubSensor returns a fixed distance or error.
type stubSensor struct {
	distance float64
	err      error
}

func (s *stubSensor) ReadDistance() (float64, error) {
	return s.distance, s.err
}

func testTank() config.TankConfig {
	return config.TankConfig{HeightCM: 100, SensorOffsetCM: 5}
}

// ============================================================================
// Level Conversion
// ============================================================================

func TestReadLevel_Conversion(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		// level = height - (distance - offset)
		{"half full", 55, 50},
		{"nearly full", 10, 95},
		{"nearly empty", 100, 5},
		{"echo above rim clamps to full", 2, 100},
		{"echo below floor clamps to empty", 120, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewLevelReader(&stubSensor{distance: tt.distance}, testTank())
			got, err := reader.ReadLevel()
			if err != nil {
				t.Fatalf("ReadLevel() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadLevel_SensorFailure(t *testing.T) {
	reader := NewLevelReader(&stubSensor{err: errors.New("no echo")}, testTank())

	_, err := reader.ReadLevel()
	if !errors.Is(err, ErrSensorRead) {
		t.Fatalf("error = %v, want ErrSensorRead", err)
	}
}

// ============================================================================
// Simulated Tank
// ============================================================================

func TestSimulatedTank_FillsAndDrains(t *testing.T) {
	sim := NewSimulatedTank(testTank())
	reader := NewLevelReader(sim, testTank())

	first, err := reader.ReadLevel()
	if err != nil {
		t.Fatalf("ReadLevel() error = %v", err)
	}

	// Pump off: inflow raises the level.
	second, err := reader.ReadLevel()
	if err != nil {
		t.Fatalf("ReadLevel() error = %v", err)
	}
	if second <= first {
		t.Errorf("level %v -> %v, want rising with pump off", first, second)
	}

	// Pump on: draining outpaces inflow.
	if err := sim.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	third, err := reader.ReadLevel()
	if err != nil {
		t.Fatalf("ReadLevel() error = %v", err)
	}
	if third >= second {
		t.Errorf("level %v -> %v, want falling with pump on", second, third)
	}
}

func TestSimulatedTank_ClampsToGeometry(t *testing.T) {
	sim := NewSimulatedTank(testTank())
	reader := NewLevelReader(sim, testTank())

	sim.SetLevel(0.1)
	if err := sim.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	level, err := reader.ReadLevel()
	if err != nil {
		t.Fatalf("ReadLevel() error = %v", err)
	}
	if level != 0 {
		t.Errorf("level = %v, want clamped to 0", level)
	}
}
