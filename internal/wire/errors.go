package wire

import "errors"

// Sentinel errors for message validation and decoding.
// Use errors.Is() to check for these in calling code.
var (
	// ErrMalformedMessage indicates a payload that could not be decoded or
	// failed validation. Malformed messages are dropped and logged at the
	// boundary that detected them, never propagated as a crash.
	ErrMalformedMessage = errors.New("wire: malformed message")

	// ErrInvalidThreshold indicates a threshold set with min >= max.
	// Invalid sets are rejected at submission time, never persisted or published.
	ErrInvalidThreshold = errors.New("wire: invalid threshold set")

	// ErrUnknownKind indicates a message kind this protocol version does not know.
	ErrUnknownKind = errors.New("wire: unknown message kind")
)
