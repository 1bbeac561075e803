package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/waterline-io/waterline-core/internal/audit"
	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// ============================================================================
// Fakes
// ============================================================================

// publishRecord is one captured broker publish.
type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBroker captures publishes and routes injected messages to the
// handlers registered for matching subscription filters.
type fakeBroker struct {
	mu       sync.Mutex
	records  []publishRecord
	handlers map[string]mqtt.MessageHandler
	failNext bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errors.New("broker unavailable")
	}
	b.records = append(b.records, publishRecord{topic, payload, qos, retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

// inject delivers a message as if it arrived from the broker.
func (b *fakeBroker) inject(t *testing.T, topic string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range b.handlers {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	b.mu.Unlock()

	if handler == nil {
		t.Fatalf("no subscription matches topic %q", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler(%q) error = %v", topic, err)
	}
}

func (b *fakeBroker) published() []publishRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishRecord(nil), b.records...)
}

func (b *fakeBroker) setFailNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = true
}

// topicMatches implements single-level wildcard matching for the fake.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

// newTestController wires a controller over a migrated temp database.
func newTestController(t *testing.T) (*Controller, *fakeBroker) {
	t.Helper()

	repo, db := openTestRepo(t)
	broker := newFakeBroker()
	cfg := config.ControllerConfig{ConfirmationTimeout: 1}

	ctrl := New(cfg, repo, audit.NewRepository(db.DB), broker, 1,
		logging.Default("waterline-core"))
	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return ctrl, broker
}

func encodePayload(t *testing.T, msg any) []byte {
	t.Helper()
	payload, err := wire.EncodePayload(msg)
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}
	return payload
}

// ============================================================================
// Manual pump requests
// ============================================================================

func TestStartPump_PublishesCommandAndSetsFlag(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	correlationID, err := ctrl.StartPump(ctx, "tank-01")
	if err != nil {
		t.Fatalf("StartPump() error = %v", err)
	}
	if correlationID == "" {
		t.Fatal("StartPump() returned empty correlation id")
	}
	if !ctrl.ManualPending("tank-01") {
		t.Error("ManualPending() = false, want outstanding flag set")
	}

	records := broker.published()
	if len(records) != 1 {
		t.Fatalf("published %d messages, want 1", len(records))
	}
	if records[0].topic != "devices/tank-01/pump/control" {
		t.Errorf("topic = %q, want devices/tank-01/pump/control", records[0].topic)
	}
	if records[0].retained {
		t.Error("pump command published retained, want not retained")
	}

	msg, err := wire.DecodePayload(wire.KindPumpCommand, records[0].payload)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	cmd := msg.(*wire.PumpCommand)
	if cmd.CorrelationID != correlationID {
		t.Errorf("command correlation id = %q, want %q", cmd.CorrelationID, correlationID)
	}

	req, err := ctrl.Repo().GetManualRequest(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetManualRequest() error = %v", err)
	}
	if req.State != RequestPending {
		t.Errorf("State = %q, want pending", req.State)
	}
}

func TestStartPump_UnknownDevice(t *testing.T) {
	ctrl, _ := newTestController(t)

	if _, err := ctrl.StartPump(context.Background(), "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("StartPump() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStartPump_ConcurrentRequestsOneWins(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.StartPump(ctx, "tank-01")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict):
			conflicted++
		default:
			t.Errorf("StartPump() unexpected error = %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if conflicted != attempts-1 {
		t.Errorf("conflicted = %d, want %d", conflicted, attempts-1)
	}
}

func TestStartPump_PublishFailureReleasesFlag(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	broker.setFailNext()
	if _, err := ctrl.StartPump(ctx, "tank-01"); err == nil {
		t.Fatal("StartPump() error = nil, want publish failure")
	}
	if ctrl.ManualPending("tank-01") {
		t.Error("ManualPending() = true after failed publish, want flag released")
	}

	// The failed attempt must not block a retry.
	if _, err := ctrl.StartPump(ctx, "tank-01"); err != nil {
		t.Errorf("retry StartPump() error = %v", err)
	}
}

func TestStatusEvent_ConfirmsOutstandingRequest(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}
	correlationID, err := ctrl.StartPump(ctx, "tank-01")
	if err != nil {
		t.Fatalf("StartPump() error = %v", err)
	}

	event := &wire.StatusEvent{
		DeviceID:      "tank-01",
		EventKind:     wire.EventPumpStarted,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	broker.inject(t, "devices/tank-01/status", encodePayload(t, event))

	if ctrl.ManualPending("tank-01") {
		t.Error("ManualPending() = true after confirmation, want flag cleared")
	}

	req, err := ctrl.Repo().GetManualRequest(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetManualRequest() error = %v", err)
	}
	if req.State != RequestConfirmed {
		t.Errorf("State = %q, want confirmed", req.State)
	}

	device, err := ctrl.Repo().GetDevice(ctx, "tank-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if !device.PumpRunning {
		t.Error("PumpRunning = false, want belief updated from status event")
	}
}

func TestStatusEvent_AutonomousLeavesFlagOutstanding(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}
	correlationID, err := ctrl.StartPump(ctx, "tank-01")
	if err != nil {
		t.Fatalf("StartPump() error = %v", err)
	}

	// Autonomous start, no correlation id. It may race the manual command;
	// the flag stays outstanding until the device echoes the correlation.
	event := &wire.StatusEvent{
		DeviceID:  "tank-01",
		EventKind: wire.EventPumpStarted,
		Timestamp: time.Now().UTC(),
	}
	broker.inject(t, "devices/tank-01/status", encodePayload(t, event))

	if !ctrl.ManualPending("tank-01") {
		t.Error("ManualPending() = false, want flag untouched by autonomous event")
	}

	req, err := ctrl.Repo().GetManualRequest(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetManualRequest() error = %v", err)
	}
	if req.State != RequestPending {
		t.Errorf("State = %q, want still pending", req.State)
	}

	device, err := ctrl.Repo().GetDevice(ctx, "tank-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if !device.PumpRunning {
		t.Error("PumpRunning = false, want belief updated")
	}
}

func TestConfirmationTimeout_MarksUnconfirmed(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}
	correlationID, err := ctrl.StartPump(ctx, "tank-01")
	if err != nil {
		t.Fatalf("StartPump() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for ctrl.ManualPending("tank-01") {
		if time.Now().After(deadline) {
			t.Fatal("flag still outstanding after confirmation window")
		}
		time.Sleep(50 * time.Millisecond)
	}

	req, err := ctrl.Repo().GetManualRequest(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetManualRequest() error = %v", err)
	}
	if req.State != RequestUnconfirmed {
		t.Errorf("State = %q, want unconfirmed", req.State)
	}

	// The cleared flag permits a fresh request.
	if _, err := ctrl.StartPump(ctx, "tank-01"); err != nil {
		t.Errorf("StartPump() after timeout error = %v", err)
	}
}

// ============================================================================
// Thresholds
// ============================================================================

func TestUpdateThresholds_VersionsAndPublishesRetained(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	first, err := ctrl.UpdateThresholds(ctx, "tank-01", 25, 75)
	if err != nil {
		t.Fatalf("UpdateThresholds() error = %v", err)
	}
	second, err := ctrl.UpdateThresholds(ctx, "tank-01", 30, 70)
	if err != nil {
		t.Fatalf("UpdateThresholds() error = %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", first.Version, second.Version)
	}

	records := broker.published()
	if len(records) != 2 {
		t.Fatalf("published %d messages, want 2", len(records))
	}
	last := records[1]
	if last.topic != "devices/tank-01/thresholds" {
		t.Errorf("topic = %q, want devices/tank-01/thresholds", last.topic)
	}
	if !last.retained {
		t.Error("threshold set published without retain flag")
	}

	msg, err := wire.DecodePayload(wire.KindThresholds, last.payload)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	set := msg.(*wire.ThresholdSet)
	if set.MinLevel != 30 || set.MaxLevel != 70 || set.Version != 2 {
		t.Errorf("published set = %+v, want 30.0/70.0 v2", set)
	}
}

func TestUpdateThresholds_InvalidRejected(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	if _, err := ctrl.UpdateThresholds(ctx, "tank-01", 80, 20); !errors.Is(err, wire.ErrInvalidThreshold) {
		t.Fatalf("UpdateThresholds() error = %v, want ErrInvalidThreshold", err)
	}
	if len(broker.published()) != 0 {
		t.Error("invalid threshold set was published")
	}

	device, err := ctrl.Repo().GetDevice(ctx, "tank-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if device.ThresholdVersion != 0 {
		t.Errorf("ThresholdVersion = %d, want 0 after rejected update", device.ThresholdVersion)
	}
}

func TestUpdateThresholds_PublishFailureKeepsStore(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	if err := ctrl.Repo().EnsureDevice(ctx, "tank-01"); err != nil {
		t.Fatalf("EnsureDevice() error = %v", err)
	}

	// Fire-and-forget: the authoritative store wins even when the broker
	// publish fails. The retained message catches up on the next update.
	broker.setFailNext()
	set, err := ctrl.UpdateThresholds(ctx, "tank-01", 35, 65)
	if err != nil {
		t.Fatalf("UpdateThresholds() error = %v", err)
	}
	if set.Version != 1 {
		t.Errorf("Version = %d, want 1", set.Version)
	}

	device, err := ctrl.Repo().GetDevice(ctx, "tank-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if device.MinLevel != 35 || device.MaxLevel != 65 {
		t.Errorf("stored = %.1f/%.1f, want 35.0/65.0", device.MinLevel, device.MaxLevel)
	}
}

// ============================================================================
// Ingest
// ============================================================================

func TestTelemetry_RegistersDeviceOnFirstContact(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	sample := &wire.Telemetry{
		DeviceID:   "tank-09",
		Timestamp:  time.Now().UTC(),
		WaterLevel: 44.0,
	}
	broker.inject(t, "devices/tank-09/data", encodePayload(t, sample))

	device, err := ctrl.Repo().GetDevice(ctx, "tank-09")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if device.MinLevel != defaultMinLevel || device.MaxLevel != defaultMaxLevel {
		t.Errorf("thresholds = %.1f/%.1f, want defaults on first contact",
			device.MinLevel, device.MaxLevel)
	}
	if device.WaterLevel == nil || *device.WaterLevel != 44.0 {
		t.Errorf("WaterLevel = %v, want 44.0", device.WaterLevel)
	}
}

func TestTelemetry_MalformedDropped(t *testing.T) {
	ctrl, broker := newTestController(t)

	broker.inject(t, "devices/tank-01/data", []byte(`{"water_level": "not a number"`))

	// The malformed sample must not register a device.
	if _, err := ctrl.Repo().GetDevice(context.Background(), "tank-01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStatusEvent_NotifierReceivesUpdate(t *testing.T) {
	ctrl, broker := newTestController(t)

	var mu sync.Mutex
	var events []Event
	ctrl.SetNotifier(notifierFunc(func(event any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event.(Event))
	}))

	sample := &wire.Telemetry{
		DeviceID:   "tank-01",
		Timestamp:  time.Now().UTC(),
		WaterLevel: 51.0,
	}
	broker.inject(t, "devices/tank-01/data", encodePayload(t, sample))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("notifier received %d events, want 1", len(events))
	}
	if events[0].Type != EventTelemetry || events[0].DeviceID != "tank-01" {
		t.Errorf("event = %+v, want telemetry for tank-01", events[0])
	}
}

func TestHistory_ClampsLimit(t *testing.T) {
	ctrl, broker := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sample := &wire.Telemetry{
			DeviceID:   "tank-01",
			Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Minute),
			WaterLevel: float64(40 + i),
		}
		broker.inject(t, "devices/tank-01/data", encodePayload(t, sample))
	}

	// The configured cap is unset in tests, so a zero limit clamps to the
	// built-in cap; an in-range limit is honoured.
	all, err := ctrl.History(ctx, "tank-01", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("History(0) returned %d samples, want all 5", len(all))
	}

	two, err := ctrl.History(ctx, "tank-01", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(two) != 2 {
		t.Errorf("History(2) returned %d samples, want 2", len(two))
	}
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(event any)

func (f notifierFunc) Broadcast(event any) { f(event) }
