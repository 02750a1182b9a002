package router

import "errors"

var (
	// ErrClientEnded rejects commands submitted after End.
	ErrClientEnded = errors.New("client ended")
	// ErrDiscoveryFailed is reported when hosts cannot be resolved; the
	// router ends itself.
	ErrDiscoveryFailed = errors.New("host discovery failed")
	// ErrCommandNotSupported rejects commands without a usable routing policy.
	ErrCommandNotSupported = errors.New("command not supported")
	// ErrNoConnections is reported when the last live server is removed and
	// rejects commands until a server is added again.
	ErrNoConnections = errors.New("no server connections available")
	// ErrUnresolvedServer rejects a command whose computed server has no
	// transport.
	ErrUnresolvedServer = errors.New("unresolved server")
	// ErrNotBootstrapped is returned by membership calls made before Bootstrap.
	ErrNotBootstrapped = errors.New("router not bootstrapped")
)
