package controller

import (
	"context"
	"sync"
	"time"

	"github.com/waterline-io/waterline-core/internal/audit"
	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// Broker is the broker surface the controller publishes and subscribes
// through. *mqtt.Client satisfies it; tests substitute a fake.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// HistorySink receives samples and pump events for long-term storage.
// *influxdb.Client satisfies it. Writes are fire-and-forget.
type HistorySink interface {
	WriteWaterLevel(deviceID string, waterLevel float64, pumpRunning bool, sampledAt time.Time)
	WritePumpEvent(deviceID string, eventKind string, occurredAt time.Time)
}

// Notifier pushes live updates to connected dashboards.
type Notifier interface {
	Broadcast(event any)
}

// Event is one live update pushed to dashboards.
type Event struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Payload  any    `json:"payload,omitempty"`
}

// Live event types.
const (
	EventTelemetry     = "telemetry"
	EventStatus        = "status"
	EventThresholds    = "thresholds"
	EventManualRequest = "manual_request"
)

// Controller reconciles backend belief with device reality.
//
// It subscribes across all device topics, maintains the authoritative
// threshold values, serialises manual pump requests per device, and
// resolves confirmations by correlation id. The device remains
// authoritative for pump state; the controller only ever holds a belief.
type Controller struct {
	cfg    config.ControllerConfig
	repo   *Repository
	trail  *audit.Repository
	broker Broker
	qos    byte
	log    *logging.Logger

	// Optional sinks; nil disables them.
	history  HistorySink
	notifier Notifier

	// Per-device manual request flags. The mutex is the single-writer
	// serialisation point upholding the at-most-one-outstanding invariant
	// against concurrent admin requests and status events.
	mu          sync.Mutex
	outstanding map[string]*pendingRequest
}

// pendingRequest is one outstanding manual pump start.
type pendingRequest struct {
	correlationID string
	timer         *time.Timer
}

// New creates a controller.
//
// Parameters:
//   - cfg: Controller section of config.yaml
//   - repo: SQLite persistence
//   - trail: Audit log repository
//   - broker: Connected broker session
//   - qos: QoS level for published commands and thresholds
//   - log: Structured logger
func New(cfg config.ControllerConfig, repo *Repository, trail *audit.Repository, broker Broker, qos byte, log *logging.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		repo:        repo,
		trail:       trail,
		broker:      broker,
		qos:         qos,
		log:         log,
		outstanding: make(map[string]*pendingRequest),
	}
}

// SetHistorySink attaches a long-term telemetry store.
func (c *Controller) SetHistorySink(sink HistorySink) {
	c.history = sink
}

// SetNotifier attaches a live update broadcaster.
func (c *Controller) SetNotifier(n Notifier) {
	c.notifier = n
}

// Start subscribes to the wildcard device topics.
// Call once after the broker session is established.
func (c *Controller) Start() error {
	topics := mqtt.Topics{}
	if err := c.broker.Subscribe(topics.AllDeviceData(), c.qos, c.handleTelemetry); err != nil {
		return err
	}
	return c.broker.Subscribe(topics.AllDeviceStatus(), c.qos, c.handleStatus)
}

// Repo exposes the persistence layer for read-side consumers (the API).
func (c *Controller) Repo() *Repository {
	return c.repo
}

// AuditTrail exposes the audit log for read-side consumers.
func (c *Controller) AuditTrail() *audit.Repository {
	return c.trail
}

// History returns recent telemetry samples for a device, newest first.
// A limit of 0 or less, or one above the configured cap, is clamped to
// the cap.
func (c *Controller) History(ctx context.Context, deviceID string, limit int) ([]*TelemetrySample, error) {
	ceiling := c.cfg.HistoryLimit
	if ceiling <= 0 {
		ceiling = defaultHistoryCap
	}
	if limit <= 0 || limit > ceiling {
		limit = ceiling
	}
	return c.repo.ListHistory(ctx, deviceID, limit)
}

// defaultHistoryCap bounds history queries when no cap is configured.
const defaultHistoryCap = 500

// ManualPending reports whether a manual request is outstanding for a
// device.
func (c *Controller) ManualPending(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outstanding[deviceID]
	return ok
}

// handleTelemetry ingests one sample from devices/+/data.
func (c *Controller) handleTelemetry(topic string, payload []byte) error {
	deviceID := mqtt.DeviceIDFromTopic(topic)
	if deviceID == "" {
		return nil
	}

	msg, err := wire.DecodePayload(wire.KindTelemetry, payload)
	if err != nil {
		c.log.Warn("dropping malformed telemetry", "topic", topic, "error", err)
		return nil
	}
	sample := msg.(*wire.Telemetry)

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if err := c.repo.EnsureDevice(ctx, deviceID); err != nil {
		return err
	}
	if err := c.repo.RecordTelemetry(ctx, sample); err != nil {
		return err
	}

	if c.history != nil {
		c.history.WriteWaterLevel(deviceID, sample.WaterLevel, sample.PumpRunning, sample.Timestamp)
	}
	c.broadcast(Event{Type: EventTelemetry, DeviceID: deviceID, Payload: sample})
	return nil
}

// handleStatus ingests one confirmation event from devices/+/status.
//
// A correlation id matching the outstanding manual request clears the
// flag; an event without one (autonomous transition) only updates the
// believed pump state.
func (c *Controller) handleStatus(topic string, payload []byte) error {
	deviceID := mqtt.DeviceIDFromTopic(topic)
	if deviceID == "" {
		return nil
	}

	msg, err := wire.DecodePayload(wire.KindStatus, payload)
	if err != nil {
		c.log.Warn("dropping malformed status event", "topic", topic, "error", err)
		return nil
	}
	event := msg.(*wire.StatusEvent)

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if err := c.repo.EnsureDevice(ctx, deviceID); err != nil {
		return err
	}

	running := event.EventKind == wire.EventPumpStarted
	if err := c.repo.UpdatePumpState(ctx, deviceID, running, event.Timestamp); err != nil {
		return err
	}

	if event.CorrelationID != "" {
		c.confirmManual(ctx, deviceID, event.CorrelationID)
	}

	if c.history != nil {
		c.history.WritePumpEvent(deviceID, event.EventKind, event.Timestamp)
	}
	c.broadcast(Event{Type: EventStatus, DeviceID: deviceID, Payload: event})
	return nil
}

// ingestTimeout bounds persistence work per inbound broker message.
const ingestTimeout = 5 * time.Second

// broadcast pushes a live event if a notifier is attached.
func (c *Controller) broadcast(event Event) {
	if c.notifier != nil {
		c.notifier.Broadcast(event)
	}
}
