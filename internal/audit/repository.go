// Package audit records operator-visible actions in the audit_logs table:
// threshold updates, manual pump starts, and their outcomes.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the controller.
const (
	ActionThresholdUpdate = "threshold_update"
	ActionPumpStart       = "pump_start_requested"
	ActionPumpConfirmed   = "pump_start_confirmed"
	ActionPumpUnconfirmed = "pump_start_unconfirmed"
)

// Entry is a single audit trail record. Append-only.
type Entry struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists and queries audit entries.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an audit repository over an open database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts a new audit entry. ID and CreatedAt are generated if empty.
func (r *Repository) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, device_id, action, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, entry.Action, entry.Detail,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns the most recent entries for a device, newest first.
// A limit of 0 or less defaults to 50, capped at 200.
func (r *Repository) List(ctx context.Context, deviceID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, action, detail, created_at
		 FROM audit_logs
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
