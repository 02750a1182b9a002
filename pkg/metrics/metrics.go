// Package metrics defines the instrumentation hooks of the client so that a
// metrics backend can be plugged in without the core packages depending on
// it. See the prometheus subpackage for a Prometheus implementation.
package metrics

// ClientMetrics receives events from the router and the transports.
// Implementations must be safe for concurrent use.
type ClientMetrics interface {
	// CommandDispatched counts a command written to a server's connection.
	CommandDispatched(server string)
	// CommandQueued counts a command parked in the offline queue.
	CommandQueued()
	// CommandRejected counts a command failed by the client itself:
	// not_supported, ended, unresolved, queue_full, connection_lost.
	CommandRejected(reason string)
	// Reconnect counts a connection loss that armed the reconnect timer.
	Reconnect(server string)
	// PendingReplies reports the number of commands awaiting a reply on a server.
	PendingReplies(server string, n int)
	// LiveServers reports the number of servers in the live registry.
	LiveServers(n int)
}

// Rejection reasons passed to CommandRejected.
const (
	ReasonNotSupported   = "not_supported"
	ReasonEnded          = "ended"
	ReasonUnresolved     = "unresolved"
	ReasonQueueFull      = "queue_full"
	ReasonConnectionLost = "connection_lost"
)

type nopClientMetrics struct{}

func (nopClientMetrics) CommandDispatched(string)   {}
func (nopClientMetrics) CommandQueued()             {}
func (nopClientMetrics) CommandRejected(string)     {}
func (nopClientMetrics) Reconnect(string)           {}
func (nopClientMetrics) PendingReplies(string, int) {}
func (nopClientMetrics) LiveServers(int)            {}

// Nop returns a ClientMetrics that discards everything.
func Nop() ClientMetrics { return nopClientMetrics{} }
