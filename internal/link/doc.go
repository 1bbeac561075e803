// Package link implements the short-range channel between the device agent
// and the bridge.
//
// The physical device speaks JSON frames over a BLE UART; this package
// renders the same contract over a local stream socket: newline-delimited
// wire envelopes, one logical message per frame, a single attached peer.
//
// The agent side listens (Listen/Accept); the bridge side dials (Dial) and
// owns reconnection. Frame decoding distinguishes recoverable conditions
// (a malformed frame is dropped, the stream continues) from fatal ones
// (oversized frame, transport failure) that end the session.
package link
