package database

import (
	"context"
	"testing"
)

// ============================================================================
// Filename Parsing
// ============================================================================

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOK      bool
	}{
		{
			name:        "valid up migration",
			filename:    "20260810_090000_initial_schema.up.sql",
			wantVersion: "20260810_090000",
			wantIsUp:    true,
			wantOK:      true,
		},
		{
			name:        "valid down migration",
			filename:    "20260810_090000_initial_schema.down.sql",
			wantVersion: "20260810_090000",
			wantIsUp:    false,
			wantOK:      true,
		},
		{
			name:        "multi word description",
			filename:    "20260812_140000_audit_logs.up.sql",
			wantVersion: "20260812_140000",
			wantIsUp:    true,
			wantOK:      true,
		},
		{
			name:     "missing direction suffix",
			filename: "20260810_090000_initial_schema.sql",
			wantOK:   false,
		},
		{
			name:     "not a sql file",
			filename: "20260810_090000_notes.up.txt",
			wantOK:   false,
		},
		{
			name:     "version only no description",
			filename: "20260810.up.sql",
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if isUp != tt.wantIsUp {
				t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260810_090000_initial_schema.up.sql", "initial_schema"},
		{"20260812_140000_audit_logs.down.sql", "audit_logs"},
		{"malformed.sql", "malformed"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

// ============================================================================
// Migration Lifecycle
// ============================================================================

func TestMigrate_NoEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	// With no MigrationsFS registered in this test binary, Migrate still
	// creates the schema_migrations table and returns cleanly.
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var count int
	err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("schema_migrations table missing: %v", err)
	}
	if count != 0 {
		t.Errorf("applied count = %d, want 0", count)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestGetMigrationStatus_Empty(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d, want 0", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}
