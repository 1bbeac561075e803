package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a message type on either transport.
//
// The same set of kinds flows over the short-range channel and the broker;
// the bridge translates framing, never meaning.
type Kind string

const (
	// KindTelemetry is a periodic water-level sample, device to backend.
	KindTelemetry Kind = "telemetry"

	// KindThresholds is a wholesale threshold replacement, backend to device.
	KindThresholds Kind = "thresholds"

	// KindPumpCommand is a manual pump command, backend to device.
	KindPumpCommand Kind = "pump_command"

	// KindStatus is a pump state confirmation event, device to backend.
	KindStatus Kind = "status"

	// KindSnapshotRequest asks the device for a fresh state snapshot.
	// Only used on the short-range channel, by the bridge after a reconnect.
	KindSnapshotRequest Kind = "snapshot_request"

	// KindSnapshot is the device's reply to a snapshot request.
	KindSnapshot Kind = "snapshot"
)

// Pump command verbs.
const (
	// CommandStart requests a manual pump start. There is no manual stop;
	// the pump stops autonomously at the low threshold.
	CommandStart = "START"
)

// Status event kinds.
const (
	EventPumpStarted = "PUMP_STARTED"
	EventPumpStopped = "PUMP_STOPPED"
)

// Telemetry is a single water-level sample.
//
// Samples are immutable once created; the backend appends them to history
// and never mutates them. PumpRunning rides along so the backend's believed
// pump state converges even between status events.
type Telemetry struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	WaterLevel  float64   `json:"water_level"`
	PumpRunning bool      `json:"pump_running"`
}

// Validate reports whether the sample is well-formed.
func (t *Telemetry) Validate() error {
	if t.DeviceID == "" {
		return fmt.Errorf("%w: telemetry missing device_id", ErrMalformedMessage)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: telemetry missing timestamp", ErrMalformedMessage)
	}
	if t.WaterLevel < 0 {
		return fmt.Errorf("%w: telemetry water_level is negative", ErrMalformedMessage)
	}
	return nil
}

// ThresholdSet is the min/max water-level pair governing autonomous pump
// control, plus a version counter.
//
// The authoritative copy lives in the backend's store; the device caches
// the last delivered set and replaces it wholesale on receipt. Version is
// monotonically increasing; re-applying the same version is a no-op.
type ThresholdSet struct {
	MinLevel float64 `json:"min_level"`
	MaxLevel float64 `json:"max_level"`
	Version  uint64  `json:"version"`
}

// Validate enforces the min < max invariant.
func (ts *ThresholdSet) Validate() error {
	if ts.MinLevel >= ts.MaxLevel {
		return fmt.Errorf("%w: min_level %.2f must be below max_level %.2f",
			ErrInvalidThreshold, ts.MinLevel, ts.MaxLevel)
	}
	return nil
}

// PumpCommand is a manual pump command issued by the backend.
//
// The correlation id ties the eventual status confirmation back to this
// command; neither transport guarantees request/response pairing.
type PumpCommand struct {
	Command       string `json:"command"`
	CorrelationID string `json:"correlation_id"`
}

// Validate reports whether the command is well-formed.
func (pc *PumpCommand) Validate() error {
	if pc.Command != CommandStart {
		return fmt.Errorf("%w: unknown pump command %q", ErrMalformedMessage, pc.Command)
	}
	if pc.CorrelationID == "" {
		return fmt.Errorf("%w: pump command missing correlation_id", ErrMalformedMessage)
	}
	return nil
}

// StatusEvent confirms that a pump transition happened.
//
// CorrelationID is set only when the transition was caused by a manual
// command; autonomous transitions carry none.
type StatusEvent struct {
	DeviceID      string    `json:"device_id"`
	EventKind     string    `json:"event_kind"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate reports whether the event is well-formed.
func (se *StatusEvent) Validate() error {
	if se.EventKind != EventPumpStarted && se.EventKind != EventPumpStopped {
		return fmt.Errorf("%w: unknown event_kind %q", ErrMalformedMessage, se.EventKind)
	}
	if se.Timestamp.IsZero() {
		return fmt.Errorf("%w: status event missing timestamp", ErrMalformedMessage)
	}
	return nil
}

// SnapshotRequest asks the device for a fresh Snapshot.
type SnapshotRequest struct{}

// Snapshot is the device's current state as reported over the short-range
// channel. The bridge requests one after a link reconnect so buffered
// commands are never replayed against assumed state.
type Snapshot struct {
	DeviceID         string    `json:"device_id"`
	Timestamp        time.Time `json:"timestamp"`
	WaterLevel       float64   `json:"water_level"`
	PumpRunning      bool      `json:"pump_running"`
	ThresholdVersion uint64    `json:"threshold_version"`
}

// envelope wraps a payload with its kind for stream framing.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serialises a message into a single JSON frame.
//
// Accepted types: *Telemetry, *ThresholdSet, *PumpCommand, *StatusEvent,
// *SnapshotRequest, *Snapshot.
//
// Returns:
//   - []byte: The encoded frame (no trailing newline)
//   - error: ErrUnknownKind for unsupported types
func Encode(msg any) ([]byte, error) {
	var kind Kind
	switch msg.(type) {
	case *Telemetry:
		kind = KindTelemetry
	case *ThresholdSet:
		kind = KindThresholds
	case *PumpCommand:
		kind = KindPumpCommand
	case *StatusEvent:
		kind = KindStatus
	case *SnapshotRequest:
		kind = KindSnapshotRequest
	case *Snapshot:
		kind = KindSnapshot
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}

	return json.Marshal(envelope{Kind: kind, Payload: payload})
}

// Decode parses a single JSON frame back into its typed message.
//
// The returned message is validated; malformed frames yield
// ErrMalformedMessage (or ErrInvalidThreshold for threshold frames) so the
// caller can drop them at the boundary without crashing.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg interface{ Validate() error }
	switch env.Kind {
	case KindTelemetry:
		msg = &Telemetry{}
	case KindThresholds:
		msg = &ThresholdSet{}
	case KindPumpCommand:
		msg = &PumpCommand{}
	case KindStatus:
		msg = &StatusEvent{}
	case KindSnapshotRequest:
		return &SnapshotRequest{}, nil
	case KindSnapshot:
		snap := &Snapshot{}
		if err := json.Unmarshal(env.Payload, snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return snap, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodePayload parses a bare (unenveloped) JSON payload of a known kind.
//
// Broker messages arrive without the envelope because the topic already
// identifies the kind; the short-range channel carries the envelope because
// it is a single undifferentiated stream.
func DecodePayload(kind Kind, data []byte) (any, error) {
	var msg interface{ Validate() error }
	switch kind {
	case KindTelemetry:
		msg = &Telemetry{}
	case KindThresholds:
		msg = &ThresholdSet{}
	case KindPumpCommand:
		msg = &PumpCommand{}
	case KindStatus:
		msg = &StatusEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodePayload serialises a message without the envelope, for publishing
// to a broker topic that already identifies the kind.
func EncodePayload(msg any) ([]byte, error) {
	switch msg.(type) {
	case *Telemetry, *ThresholdSet, *PumpCommand, *StatusEvent:
		return json.Marshal(msg)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
}
