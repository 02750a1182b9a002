package client

import (
	"errors"

	"github.com/cachemir/shardis/internal/queue"
	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/router"
	"github.com/cachemir/shardis/pkg/transport"
)

// ErrNil is returned by typed helpers when the server replied with nil, for
// example GET on a missing key.
var ErrNil = errors.New("shardis: nil reply")

// Errors surfaced by the router and transports, re-exported so applications
// only need this package for errors.Is checks.
var (
	ErrClientEnded         = router.ErrClientEnded
	ErrDiscoveryFailed     = router.ErrDiscoveryFailed
	ErrCommandNotSupported = router.ErrCommandNotSupported
	ErrNoConnections       = router.ErrNoConnections
	ErrUnresolvedServer    = router.ErrUnresolvedServer
	ErrConnectionLost      = transport.ErrConnectionLost
	ErrTransportEnded      = transport.ErrTransportEnded
	ErrProtocol            = protocol.ErrProtocol
	ErrQueueFull           = queue.ErrQueueFull
)

// ServerError is an error reply from a server.
type ServerError = protocol.ServerError
