package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCredentialFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write credential file: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeCredentialFile(t, `{"device_id":"tank-01","device_key":"k-9f2e7a"}`)

	creds, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.DeviceID != "tank-01" {
		t.Errorf("DeviceID = %q, want %q", creds.DeviceID, "tank-01")
	}
	if creds.DeviceKey != "k-9f2e7a" {
		t.Errorf("DeviceKey = %q, want %q", creds.DeviceKey, "k-9f2e7a")
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("Load() error = %v, want ErrNotProvisioned", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "device-id,device-key"},
		{name: "missing key", content: `{"device_id":"tank-01"}`},
		{name: "empty fields", content: `{"device_id":"","device_key":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCredentialFile(t, tt.content))
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Load() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}
