package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
	"github.com/waterline-io/waterline-core/internal/link"
	"github.com/waterline-io/waterline-core/internal/wire"
)

const (
	// dialTimeout bounds one short-range link connection attempt.
	dialTimeout = 5 * time.Second

	// snapshotTimeout bounds the post-reconnect snapshot handshake. A
	// device that does not answer still gets its buffered traffic; the
	// handshake is an optimisation for backend belief, not a gate.
	snapshotTimeout = 5 * time.Second
)

// Broker is the broker-session surface the relay publishes and subscribes
// through. *mqtt.Client satisfies it; tests substitute a fake.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
}

// LinkConn is the device-side connection surface. *link.Conn satisfies it.
type LinkConn interface {
	ReadMessage() (any, error)
	WriteMessage(msg any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the device agent.
type Dialer func(addr string, timeout time.Duration) (LinkConn, error)

// DialLink is the production Dialer, backed by the link package.
func DialLink(addr string, timeout time.Duration) (LinkConn, error) {
	return link.Dial(addr, timeout)
}

// Relay is the store-and-forward bridge between the device agent's
// short-range channel and the MQTT broker.
//
// It maintains two independent connection lifecycles and relays messages
// between them without interpreting thresholds or manual flags: a
// transparent, reliability-enhancing pipe. When either side is down,
// traffic for it accumulates in a bounded drop-oldest buffer and flushes
// on reconnect, in original order.
type Relay struct {
	cfg      config.BridgeConfig
	deviceID string
	broker   Broker
	dial     Dialer
	qos      byte
	log      *logging.Logger

	topics   mqtt.Topics
	uplink   *Buffer
	downlink *Buffer

	// downlinkSignal wakes the deliver loop when a broker message arrives.
	downlinkSignal chan struct{}
}

// New creates a relay for one device.
//
// Parameters:
//   - cfg: Bridge section of config.yaml
//   - deviceID: The provisioned device identifier (topic namespace)
//   - broker: Connected broker session
//   - dial: Short-range link dialer
//   - qos: QoS level for uplink publishes
//   - log: Structured logger
func New(cfg config.BridgeConfig, deviceID string, broker Broker, dial Dialer, qos byte, log *logging.Logger) *Relay {
	return &Relay{
		cfg:            cfg,
		deviceID:       deviceID,
		broker:         broker,
		dial:           dial,
		qos:            qos,
		log:            log,
		uplink:         NewBuffer(cfg.UplinkBuffer),
		downlink:       NewBuffer(cfg.DownlinkBuffer),
		downlinkSignal: make(chan struct{}, 1),
	}
}

// Run relays until the context is cancelled.
//
// The broker side is handled by subscription callbacks and the reconnect
// flush; this goroutine owns the link side, reconnecting with exponential
// backoff between sessions.
func (r *Relay) Run(ctx context.Context) error {
	r.broker.SetOnConnect(func() {
		r.flushUplink()
	})
	if err := r.subscribe(); err != nil {
		return err
	}

	delay := r.cfg.Reconnect.GetInitialDelay()
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := r.dial(r.cfg.DeviceAddr, dialTimeout)
		if err != nil {
			r.log.Warn("link dial failed",
				"addr", r.cfg.DeviceAddr,
				"retry_in", delay.String(),
				"error", err,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			delay *= 2
			if max := r.cfg.Reconnect.GetMaxDelay(); delay > max {
				delay = max
			}
			continue
		}

		delay = r.cfg.Reconnect.GetInitialDelay()
		linkReconnects.Inc()
		r.log.Info("link connected", "addr", r.cfg.DeviceAddr)

		r.runSession(ctx, conn)
		conn.Close() //nolint:errcheck // Session already over
		r.log.Info("link disconnected", "addr", r.cfg.DeviceAddr)
	}
}

// subscribe registers the two backend-to-device topics.
func (r *Relay) subscribe() error {
	thresholds := r.topics.DeviceThresholds(r.deviceID)
	control := r.topics.DevicePumpControl(r.deviceID)

	handler := func(topic string, payload []byte) error {
		var kind wire.Kind
		switch topic {
		case thresholds:
			kind = wire.KindThresholds
		case control:
			kind = wire.KindPumpCommand
		default:
			return nil
		}

		msg, err := wire.DecodePayload(kind, payload)
		if err != nil {
			malformedDropped.Inc()
			r.log.Warn("dropping malformed broker message", "topic", topic, "error", err)
			return nil
		}

		if r.downlink.Push(msg, time.Now()) {
			bufferEvicted.WithLabelValues("downlink").Inc()
		}
		downlinkBuffered.Set(float64(r.downlink.Len()))

		select {
		case r.downlinkSignal <- struct{}{}:
		default:
		}
		return nil
	}

	if err := r.broker.Subscribe(thresholds, r.qos, handler); err != nil {
		return err
	}
	return r.broker.Subscribe(control, r.qos, handler)
}

// runSession relays over one link connection until it fails or the context
// is cancelled.
func (r *Relay) runSession(ctx context.Context, conn LinkConn) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the read loop when the session or process shuts down.
	go func() {
		<-sessCtx.Done()
		conn.Close() //nolint:errcheck // Teardown path
	}()

	// Re-synchronise before replaying anything buffered: a stale manual
	// start must never be judged against assumed device state.
	r.resync(conn)

	go r.deliverLoop(sessCtx, conn)
	r.readLoop(conn)
}

// resync requests a fresh device snapshot and republishes it as telemetry,
// so the backend's belief reflects reality before buffered commands land.
// Uplink traffic arriving during the handshake is relayed normally.
func (r *Relay) resync(conn LinkConn) {
	if err := conn.WriteMessage(&wire.SnapshotRequest{}); err != nil {
		r.log.Warn("snapshot request failed", "error", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(snapshotTimeout)) //nolint:errcheck // Best effort
	defer conn.SetReadDeadline(time.Time{})               //nolint:errcheck // Best effort

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if isMalformed(err) {
				malformedDropped.Inc()
				continue
			}
			r.log.Warn("no snapshot before deadline, proceeding", "error", err)
			return
		}

		if snap, ok := msg.(*wire.Snapshot); ok {
			r.log.Info("device snapshot received",
				"pump_running", snap.PumpRunning,
				"threshold_version", snap.ThresholdVersion,
			)
			r.publishUplink(snapshotTelemetry(snap))
			return
		}
		r.handleUplink(msg)
	}
}

// readLoop relays device messages until the connection fails.
func (r *Relay) readLoop(conn LinkConn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if isMalformed(err) {
				malformedDropped.Inc()
				r.log.Warn("dropping malformed device message", "error", err)
				continue
			}
			return
		}
		r.handleUplink(msg)
	}
}

// deliverLoop drains the downlink buffer into the device connection.
func (r *Relay) deliverLoop(ctx context.Context, conn LinkConn) {
	for {
		for {
			msg, enqueuedAt, ok := r.downlink.Pop()
			if !ok {
				break
			}
			if err := conn.WriteMessage(msg); err != nil {
				// Session is dead; requeue for the next one.
				r.downlink.PushFront(msg, enqueuedAt)
				downlinkBuffered.Set(float64(r.downlink.Len()))
				return
			}
			downlinkRelayed.Inc()
			downlinkBuffered.Set(float64(r.downlink.Len()))
		}

		select {
		case <-ctx.Done():
			return
		case <-r.downlinkSignal:
		}
	}
}

// handleUplink routes one device message toward the broker.
func (r *Relay) handleUplink(msg any) {
	switch m := msg.(type) {
	case *wire.Telemetry:
		r.publishUplink(m)
	case *wire.StatusEvent:
		r.publishUplink(m)
	case *wire.Snapshot:
		// Unsolicited snapshot; still useful as a telemetry refresh.
		r.publishUplink(snapshotTelemetry(m))
	default:
		r.log.Debug("ignoring unexpected device message")
	}
}

// publishUplink publishes a device message, buffering it if the broker
// session is down or the publish fails.
func (r *Relay) publishUplink(msg any) {
	if r.broker.IsConnected() {
		err := r.publish(msg)
		if err == nil {
			uplinkRelayed.Inc()
			return
		}
		r.log.Warn("uplink publish failed, buffering", "error", err)
	}

	if r.uplink.Push(msg, time.Now()) {
		bufferEvicted.WithLabelValues("uplink").Inc()
	}
	uplinkBuffered.Set(float64(r.uplink.Len()))
}

// publish encodes and publishes one message to its per-device topic.
func (r *Relay) publish(msg any) error {
	var topic string
	switch msg.(type) {
	case *wire.Telemetry:
		topic = r.topics.DeviceData(r.deviceID)
	case *wire.StatusEvent:
		topic = r.topics.DeviceStatus(r.deviceID)
	default:
		return wire.ErrUnknownKind
	}

	payload, err := wire.EncodePayload(msg)
	if err != nil {
		return err
	}
	return r.broker.Publish(topic, payload, r.qos, false)
}

// flushUplink drains the uplink buffer after a broker reconnect.
//
// Telemetry older than the staleness window is discarded first; a sample
// from before a long outage has historical value at best. Status events
// are replayed regardless of age because the backend reconciles manual
// requests from them.
func (r *Relay) flushUplink() {
	cutoff := time.Now().Add(-r.cfg.GetTelemetryStaleness())
	if n := r.uplink.DiscardOlderThan(cutoff, func(msg any) bool {
		_, ok := msg.(*wire.Telemetry)
		return ok
	}); n > 0 {
		staleDiscarded.Add(float64(n))
		r.log.Info("discarded stale buffered telemetry", "count", n)
	}

	flushed := 0
	for {
		msg, enqueuedAt, ok := r.uplink.Pop()
		if !ok {
			break
		}
		if err := r.publish(msg); err != nil {
			r.uplink.PushFront(msg, enqueuedAt)
			r.log.Warn("uplink flush interrupted", "error", err)
			break
		}
		uplinkRelayed.Inc()
		flushed++
	}
	uplinkBuffered.Set(float64(r.uplink.Len()))

	if flushed > 0 {
		r.log.Info("flushed buffered uplink messages", "count", flushed)
	}
}

// snapshotTelemetry converts a snapshot into the telemetry form the
// backend already understands.
func snapshotTelemetry(snap *wire.Snapshot) *wire.Telemetry {
	return &wire.Telemetry{
		DeviceID:    snap.DeviceID,
		Timestamp:   snap.Timestamp,
		WaterLevel:  snap.WaterLevel,
		PumpRunning: snap.PumpRunning,
	}
}

// isMalformed reports whether a read error is a recoverable frame problem
// rather than a transport failure.
func isMalformed(err error) bool {
	return errors.Is(err, wire.ErrMalformedMessage) ||
		errors.Is(err, wire.ErrInvalidThreshold) ||
		errors.Is(err, wire.ErrUnknownKind)
}
