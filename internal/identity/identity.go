package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Credentials is the provisioned device identity: an opaque identifier and
// an opaque secret. The pair is written once by the provisioning flow and
// never changes afterwards; both the device agent and the bridge load it at
// startup and hold it as an immutable value.
//
// The device key authenticates to the broker as a transport credential.
// It never appears in telemetry payloads.
type Credentials struct {
	DeviceID  string `json:"device_id"`
	DeviceKey string `json:"device_key"`
}

// Sentinel errors for credential loading.
var (
	// ErrNotProvisioned indicates the credential file does not exist yet.
	ErrNotProvisioned = errors.New("identity: device not provisioned")

	// ErrInvalidCredentials indicates the credential file is present but unusable.
	ErrInvalidCredentials = errors.New("identity: invalid credential file")
)

// Load reads the credential pair from the provisioned JSON file.
//
// Parameters:
//   - path: Path to the credential file written at provisioning time
//
// Returns:
//   - Credentials: The immutable identity pair
//   - error: ErrNotProvisioned if the file is missing,
//     ErrInvalidCredentials if it cannot be parsed or is incomplete
func Load(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrNotProvisioned, path)
		}
		return Credentials{}, fmt.Errorf("reading credential file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if creds.DeviceID == "" || creds.DeviceKey == "" {
		return Credentials{}, fmt.Errorf("%w: device_id and device_key are required", ErrInvalidCredentials)
	}

	return creds, nil
}
