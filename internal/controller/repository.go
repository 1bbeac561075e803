package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waterline-io/waterline-core/internal/infrastructure/database"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// Default thresholds for a device seen for the first time, before any
// admin has configured it.
const (
	defaultMinLevel = 20.0
	defaultMaxLevel = 80.0
)

// Device is the backend's belief about one provisioned device.
//
// PumpRunning and WaterLevel are reconciled from telemetry and status
// events; the device itself is authoritative. Threshold fields are
// authoritative here and cached on the device.
type Device struct {
	DeviceID         string     `json:"device_id"`
	Name             string     `json:"name"`
	MinLevel         float64    `json:"min_level"`
	MaxLevel         float64    `json:"max_level"`
	ThresholdVersion uint64     `json:"threshold_version"`
	PumpRunning      bool       `json:"pump_running"`
	WaterLevel       *float64   `json:"water_level,omitempty"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ManualRequestState is the lifecycle of one manual pump request.
type ManualRequestState string

const (
	// RequestPending means the command is published, confirmation awaited.
	RequestPending ManualRequestState = "pending"

	// RequestConfirmed means a matching status event arrived in time.
	RequestConfirmed ManualRequestState = "confirmed"

	// RequestUnconfirmed means the confirmation window elapsed; the flag
	// was auto-cleared and the outcome surfaced to the admin.
	RequestUnconfirmed ManualRequestState = "unconfirmed"
)

// ManualRequest is the persisted record of one manual pump start.
type ManualRequest struct {
	CorrelationID string             `json:"correlation_id"`
	DeviceID      string             `json:"device_id"`
	State         ManualRequestState `json:"state"`
	RequestedAt   time.Time          `json:"requested_at"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// TelemetrySample is one row of the short operational history window.
type TelemetrySample struct {
	DeviceID    string    `json:"device_id"`
	WaterLevel  float64   `json:"water_level"`
	PumpRunning bool      `json:"pump_running"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Repository persists controller state in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository over an open database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// EnsureDevice registers a device on first contact with default
// thresholds. Existing rows are untouched.
func (r *Repository) EnsureDevice(ctx context.Context, deviceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, min_level, max_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO NOTHING
	`, deviceID, defaultMinLevel, defaultMaxLevel, now, now)
	if err != nil {
		return fmt.Errorf("ensuring device: %w", err)
	}
	return nil
}

// GetDevice fetches one device.
func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, name, min_level, max_level, threshold_version,
		       pump_running, water_level, last_seen_at, created_at, updated_at
		FROM devices WHERE device_id = ?
	`, deviceID)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

// ListDevices returns all known devices ordered by identifier.
func (r *Repository) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, name, min_level, max_level, threshold_version,
		       pump_running, water_level, last_seen_at, created_at, updated_at
		FROM devices ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// RecordTelemetry updates the device belief from one sample and appends
// it to the history window.
func (r *Repository) RecordTelemetry(ctx context.Context, sample *wire.Telemetry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	recordedAt := sample.Timestamp.UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET water_level = ?, pump_running = ?, last_seen_at = ?, updated_at = ?
		WHERE device_id = ?
	`, sample.WaterLevel, sample.PumpRunning, recordedAt, now, sample.DeviceID); err != nil {
		return fmt.Errorf("updating device belief: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO telemetry_history (device_id, water_level, pump_running, recorded_at)
		VALUES (?, ?, ?, ?)
	`, sample.DeviceID, sample.WaterLevel, sample.PumpRunning, recordedAt); err != nil {
		return fmt.Errorf("appending telemetry history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing telemetry: %w", err)
	}
	return nil
}

// UpdatePumpState updates the believed pump state from a status event.
func (r *Repository) UpdatePumpState(ctx context.Context, deviceID string, running bool, at time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET pump_running = ?, last_seen_at = ?, updated_at = ?
		WHERE device_id = ?
	`, running, at.UTC().Format(time.RFC3339), now, deviceID)
	if err != nil {
		return fmt.Errorf("updating pump state: %w", err)
	}
	return nil
}

// BumpThresholds replaces a device's thresholds and increments the
// version atomically, returning the new authoritative set.
func (r *Repository) BumpThresholds(ctx context.Context, deviceID string, minLevel, maxLevel float64) (*wire.ThresholdSet, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var version uint64
	err = tx.QueryRowContext(ctx,
		"SELECT threshold_version FROM devices WHERE device_id = ?", deviceID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("reading threshold version: %w", err)
	}

	version++
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET min_level = ?, max_level = ?, threshold_version = ?, updated_at = ?
		WHERE device_id = ?
	`, minLevel, maxLevel, version, now, deviceID); err != nil {
		return nil, fmt.Errorf("updating thresholds: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing thresholds: %w", err)
	}

	return &wire.ThresholdSet{MinLevel: minLevel, MaxLevel: maxLevel, Version: version}, nil
}

// CreateManualRequest records a newly issued manual pump start as pending.
func (r *Repository) CreateManualRequest(ctx context.Context, correlationID, deviceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO manual_requests (correlation_id, device_id, state, requested_at)
		VALUES (?, ?, ?, ?)
	`, correlationID, deviceID, string(RequestPending), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating manual request: %w", err)
	}
	return nil
}

// ResolveManualRequest records the final disposition of a pending request.
func (r *Repository) ResolveManualRequest(ctx context.Context, correlationID string, state ManualRequestState, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE manual_requests SET state = ?, resolved_at = ?
		WHERE correlation_id = ? AND state = ?
	`, string(state), at.UTC().Format(time.RFC3339), correlationID, string(RequestPending))
	if err != nil {
		return fmt.Errorf("resolving manual request: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, correlationID)
	}
	return nil
}

// GetManualRequest fetches one manual request by correlation id.
func (r *Repository) GetManualRequest(ctx context.Context, correlationID string) (*ManualRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT correlation_id, device_id, state, requested_at, resolved_at
		FROM manual_requests WHERE correlation_id = ?
	`, correlationID)

	var req ManualRequest
	var state, requestedAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&req.CorrelationID, &req.DeviceID, &state, &requestedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, correlationID)
		}
		return nil, fmt.Errorf("querying manual request: %w", err)
	}

	req.State = ManualRequestState(state)
	req.RequestedAt, _ = time.Parse(time.RFC3339, requestedAt) //nolint:errcheck // Format is controlled
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, resolvedAt.String) //nolint:errcheck // Format is controlled
		req.ResolvedAt = &t
	}
	return &req, nil
}

// ListHistory returns the most recent telemetry samples for a device,
// newest first, capped at limit.
func (r *Repository) ListHistory(ctx context.Context, deviceID string, limit int) ([]*TelemetrySample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, water_level, pump_running, recorded_at
		FROM telemetry_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var samples []*TelemetrySample
	for rows.Next() {
		var s TelemetrySample
		var recordedAt string
		if err := rows.Scan(&s.DeviceID, &s.WaterLevel, &s.PumpRunning, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		s.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt) //nolint:errcheck // Format is controlled
		samples = append(samples, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return samples, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice reads one devices row.
func scanDevice(row scanner) (*Device, error) {
	var d Device
	var waterLevel sql.NullFloat64
	var lastSeenAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&d.DeviceID, &d.Name, &d.MinLevel, &d.MaxLevel, &d.ThresholdVersion,
		&d.PumpRunning, &waterLevel, &lastSeenAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if waterLevel.Valid {
		d.WaterLevel = &waterLevel.Float64
	}
	if lastSeenAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastSeenAt.String) //nolint:errcheck // Format is controlled
		d.LastSeenAt = &t
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}
