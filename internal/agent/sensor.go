package agent

import (
	"fmt"
	"sync"

	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
)

// Sensor reads the raw distance from the sensor head down to the water
// surface, in centimetres. Implementations wrap real hardware or a
// simulation; the agent never sees raw distances directly.
type Sensor interface {
	ReadDistance() (float64, error)
}

// LevelReader converts raw sensor distances into water levels using the
// configured tank geometry.
//
// The sensor sits sensor_offset_cm above the tank rim, so:
//
//	level = height_cm - (distance - sensor_offset_cm)
//
// Readings are clamped to [0, height_cm]; an ultrasonic echo off a ripple
// can report a distance slightly outside the physical range.
type LevelReader struct {
	sensor Sensor
	tank   config.TankConfig
}

// NewLevelReader wraps a sensor with tank geometry.
func NewLevelReader(sensor Sensor, tank config.TankConfig) *LevelReader {
	return &LevelReader{sensor: sensor, tank: tank}
}

// ReadLevel returns the current water level in centimetres from the tank floor.
func (r *LevelReader) ReadLevel() (float64, error) {
	distance, err := r.sensor.ReadDistance()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSensorRead, err)
	}

	level := r.tank.HeightCM - (distance - r.tank.SensorOffsetCM)
	if level < 0 {
		level = 0
	}
	if level > r.tank.HeightCM {
		level = r.tank.HeightCM
	}
	return level, nil
}

// SimulatedTank models a sump that fills from inflow and empties through
// the drain pump, for development and tests without sensor hardware. It
// implements both Sensor and Pump: the water level creeps up on every read
// and falls while the pump runs.
type SimulatedTank struct {
	mu          sync.Mutex
	tank        config.TankConfig
	levelCM     float64
	pumpRunning bool

	// Per-read level deltas in centimetres.
	inflowPerRead float64
	drainPerRead  float64
}

// NewSimulatedTank creates a simulated tank starting at half capacity.
func NewSimulatedTank(tank config.TankConfig) *SimulatedTank {
	return &SimulatedTank{
		tank:          tank,
		levelCM:       tank.HeightCM / 2,
		inflowPerRead: 0.5,
		drainPerRead:  2.0,
	}
}

// ReadDistance advances the simulation one step and reports the distance
// the ultrasonic sensor would measure.
func (s *SimulatedTank) ReadDistance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pumpRunning {
		s.levelCM -= s.drainPerRead
	} else {
		s.levelCM += s.inflowPerRead
	}
	if s.levelCM < 0 {
		s.levelCM = 0
	}
	if s.levelCM > s.tank.HeightCM {
		s.levelCM = s.tank.HeightCM
	}

	return s.tank.HeightCM + s.tank.SensorOffsetCM - s.levelCM, nil
}

// Start switches the simulated drain pump on.
func (s *SimulatedTank) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pumpRunning = true
	return nil
}

// Stop switches the simulated drain pump off.
func (s *SimulatedTank) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pumpRunning = false
	return nil
}

// SetLevel overrides the simulated water level. Test hook.
func (s *SimulatedTank) SetLevel(levelCM float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levelCM = levelCM
}
