package transport

import "errors"

var (
	// ErrConnectionLost rejects every command pending on a connection that
	// dropped, and commands written while the transport is reconnecting.
	// The transport never retries them.
	ErrConnectionLost = errors.New("connection lost")
	// ErrTransportEnded rejects commands written to, or pending on, a
	// transport that was ended.
	ErrTransportEnded = errors.New("transport ended")
)
