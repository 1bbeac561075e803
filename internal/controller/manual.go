package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waterline-io/waterline-core/internal/audit"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// StartPump issues a manual pump start for a device.
//
// At most one manual request may be outstanding per device. The flag is
// acquired before the command is published and released on confirmation,
// timeout, or publish failure. A second request while one is outstanding
// fails with ErrConflict; there is no coalescing onto the in-flight
// request, the caller retries after it resolves.
//
// Parameters:
//   - ctx: Cancellation and deadline
//   - deviceID: Target device, must already be known to the controller
//
// Returns:
//   - string: Correlation id tying the command to its confirmation
//   - error: ErrDeviceNotFound, ErrConflict, or a publish failure
func (c *Controller) StartPump(ctx context.Context, deviceID string) (string, error) {
	if _, err := c.repo.GetDevice(ctx, deviceID); err != nil {
		return "", err
	}

	correlationID := uuid.NewString()
	if err := c.acquireFlag(deviceID, correlationID); err != nil {
		return "", err
	}

	cmd := &wire.PumpCommand{Command: wire.CommandStart, CorrelationID: correlationID}
	payload, err := wire.EncodePayload(cmd)
	if err != nil {
		c.releaseFlag(deviceID, correlationID)
		return "", fmt.Errorf("encoding pump command: %w", err)
	}

	topic := mqtt.Topics{}.DevicePumpControl(deviceID)
	if err := c.broker.Publish(topic, payload, c.qos, false); err != nil {
		c.releaseFlag(deviceID, correlationID)
		return "", fmt.Errorf("publishing pump command: %w", err)
	}

	now := time.Now().UTC()
	if err := c.repo.CreateManualRequest(ctx, correlationID, deviceID, now); err != nil {
		// The command is already in flight; keep the flag so a late
		// confirmation still resolves cleanly, but surface the error.
		c.log.Error("failed to persist manual request", "device_id", deviceID,
			"correlation_id", correlationID, "error", err)
	}

	c.audit(ctx, deviceID, audit.ActionPumpStart, "correlation_id="+correlationID)

	c.log.Info("manual pump start issued",
		"device_id", deviceID,
		"correlation_id", correlationID,
		"timeout", c.cfg.GetConfirmationTimeout())

	c.armTimeout(deviceID, correlationID)
	c.broadcast(Event{Type: EventManualRequest, DeviceID: deviceID, Payload: map[string]string{
		"correlation_id": correlationID,
		"state":          string(RequestPending),
	}})
	return correlationID, nil
}

// acquireFlag claims the per-device manual request flag.
func (c *Controller) acquireFlag(deviceID, correlationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pending, ok := c.outstanding[deviceID]; ok {
		return fmt.Errorf("%w: device %s has request %s pending",
			ErrConflict, deviceID, pending.correlationID)
	}
	c.outstanding[deviceID] = &pendingRequest{correlationID: correlationID}
	return nil
}

// releaseFlag clears the flag if it still belongs to correlationID.
func (c *Controller) releaseFlag(deviceID, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.outstanding[deviceID]
	if !ok || pending.correlationID != correlationID {
		return
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	delete(c.outstanding, deviceID)
}

// armTimeout starts the confirmation window for an outstanding request.
func (c *Controller) armTimeout(deviceID, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, ok := c.outstanding[deviceID]
	if !ok || pending.correlationID != correlationID {
		return
	}
	pending.timer = time.AfterFunc(c.cfg.GetConfirmationTimeout(), func() {
		c.expireManual(deviceID, correlationID)
	})
}

// confirmManual resolves the outstanding request when a status event with
// a matching correlation id arrives. Correlation ids that match nothing
// outstanding (late confirmations, replays after a bridge outage) are
// logged and ignored; the device state update has already happened.
func (c *Controller) confirmManual(ctx context.Context, deviceID, correlationID string) {
	c.mu.Lock()
	pending, ok := c.outstanding[deviceID]
	if !ok || pending.correlationID != correlationID {
		c.mu.Unlock()
		c.log.Debug("ignoring unmatched confirmation",
			"device_id", deviceID, "correlation_id", correlationID)
		return
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	delete(c.outstanding, deviceID)
	c.mu.Unlock()

	now := time.Now().UTC()
	if err := c.repo.ResolveManualRequest(ctx, correlationID, RequestConfirmed, now); err != nil {
		c.log.Error("failed to resolve manual request", "correlation_id", correlationID, "error", err)
	}

	c.audit(ctx, deviceID, audit.ActionPumpConfirmed, "correlation_id="+correlationID)
	c.log.Info("manual pump start confirmed",
		"device_id", deviceID, "correlation_id", correlationID)

	c.broadcast(Event{Type: EventManualRequest, DeviceID: deviceID, Payload: map[string]string{
		"correlation_id": correlationID,
		"state":          string(RequestConfirmed),
	}})
}

// expireManual fires when the confirmation window elapses without a
// matching status event. The flag is cleared so the admin can retry and
// the request is surfaced as unconfirmed, not failed: the command may
// still be buffered on a disconnected bridge and act later.
func (c *Controller) expireManual(deviceID, correlationID string) {
	c.mu.Lock()
	pending, ok := c.outstanding[deviceID]
	if !ok || pending.correlationID != correlationID {
		c.mu.Unlock()
		return
	}
	delete(c.outstanding, deviceID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := c.repo.ResolveManualRequest(ctx, correlationID, RequestUnconfirmed, now); err != nil {
		c.log.Error("failed to mark request unconfirmed", "correlation_id", correlationID, "error", err)
	}

	c.audit(ctx, deviceID, audit.ActionPumpUnconfirmed, "correlation_id="+correlationID)
	c.log.Warn("manual pump start unconfirmed",
		"device_id", deviceID,
		"correlation_id", correlationID,
		"timeout", c.cfg.GetConfirmationTimeout())

	c.broadcast(Event{Type: EventManualRequest, DeviceID: deviceID, Payload: map[string]string{
		"correlation_id": correlationID,
		"state":          string(RequestUnconfirmed),
	}})
}

// audit records an entry in the audit trail, logging on failure.
func (c *Controller) audit(ctx context.Context, deviceID, action, detail string) {
	if c.trail == nil {
		return
	}
	err := c.trail.Record(ctx, &audit.Entry{DeviceID: deviceID, Action: action, Detail: detail})
	if err != nil {
		c.log.Error("failed to record audit entry", "action", action, "error", err)
	}
}
