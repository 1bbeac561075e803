package controller

import (
	"context"
	"fmt"

	"github.com/waterline-io/waterline-core/internal/audit"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// UpdateThresholds replaces a device's thresholds wholesale.
//
// The store is authoritative: the new set is persisted with an
// incremented version before anything is published. The broker publish
// is retained and fire-and-forget; if the device is unreachable the
// retained message delivers the set on its next reconnect, and until
// then the device keeps acting on its cached values.
//
// Parameters:
//   - ctx: Cancellation and deadline
//   - deviceID: Target device
//   - minLevel: Pump stop level in cm, must be below maxLevel
//   - maxLevel: Pump start level in cm
//
// Returns:
//   - *wire.ThresholdSet: The new authoritative set with its version
//   - error: wire.ErrInvalidThreshold, ErrDeviceNotFound, or a database failure
func (c *Controller) UpdateThresholds(ctx context.Context, deviceID string, minLevel, maxLevel float64) (*wire.ThresholdSet, error) {
	candidate := &wire.ThresholdSet{MinLevel: minLevel, MaxLevel: maxLevel, Version: 1}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	set, err := c.repo.BumpThresholds(ctx, deviceID, minLevel, maxLevel)
	if err != nil {
		return nil, err
	}

	payload, err := wire.EncodePayload(set)
	if err != nil {
		return nil, fmt.Errorf("encoding threshold set: %w", err)
	}

	topic := mqtt.Topics{}.DeviceThresholds(deviceID)
	if err := c.broker.Publish(topic, payload, c.qos, true); err != nil {
		// Store already updated; the publish is retried implicitly on the
		// next threshold change. Surfacing as success keeps the admin view
		// consistent with the authoritative store.
		c.log.Error("failed to publish threshold set", "device_id", deviceID,
			"version", set.Version, "error", err)
	}

	c.audit(ctx, deviceID, audit.ActionThresholdUpdate,
		fmt.Sprintf("min=%.1f max=%.1f version=%d", set.MinLevel, set.MaxLevel, set.Version))

	c.log.Info("thresholds updated",
		"device_id", deviceID,
		"min_level", set.MinLevel,
		"max_level", set.MaxLevel,
		"version", set.Version)

	c.broadcast(Event{Type: EventThresholds, DeviceID: deviceID, Payload: set})
	return set, nil
}
