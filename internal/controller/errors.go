package controller

import "errors"

// Sentinel errors for controller operations.
//
// Conflict and timeout conditions are surfaced to the admin-facing caller
// as typed outcomes, never silent failures.
var (
	// ErrConflict indicates a manual request is already outstanding for
	// the device. Manual requests are serialised per device; the caller
	// decides whether to retry after the outstanding one resolves.
	ErrConflict = errors.New("controller: manual request already outstanding")

	// ErrDeviceNotFound indicates the device has never reported telemetry.
	ErrDeviceNotFound = errors.New("controller: device not found")

	// ErrRequestNotFound indicates no manual request exists for the id.
	ErrRequestNotFound = errors.New("controller: manual request not found")
)
