package link

import "errors"

// Sentinel errors for short-range channel operations.
var (
	// ErrClosed indicates the connection is closed or the transport failed.
	// The bridge treats this as a disconnect and re-enters its retry loop.
	ErrClosed = errors.New("link: connection closed")

	// ErrConnectFailed indicates a dial or listen attempt failed.
	ErrConnectFailed = errors.New("link: connect failed")
)
