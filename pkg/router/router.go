// Package router decides which backend server each command goes to.
//
// The Router owns the consistent-hash ring, the registry of live transports
// (one per server identity) and the offline queue. Until Bootstrap attaches
// the first servers, submitted commands wait in the offline queue; Bootstrap
// then re-submits them in order so they take the same routing path as any
// later command.
//
// Routing, per command:
//
//  1. Unsupported commands are rejected with ErrCommandNotSupported, and
//     every command is rejected with ErrNoConnections while no server is live.
//  2. Custom policies route themselves.
//  3. With a single server on the ring, everything goes to it.
//  4. SingleKey commands go to the owner of their shard key (hash tags
//     honored); RingWide commands go to every live server.
//
// When a transport gives up on its server, the router drops it and promotes
// the next replacement host into the same ring slots, or removes the server
// from the ring when no replacement is left.
package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cachemir/shardis/internal/queue"
	"github.com/cachemir/shardis/pkg/command"
	"github.com/cachemir/shardis/pkg/hash"
	"github.com/cachemir/shardis/pkg/hosts"
	"github.com/cachemir/shardis/pkg/metrics"
	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/result"
	"github.com/cachemir/shardis/pkg/transport"
)

// Observer receives cluster-level events. Callbacks never run while the
// router holds its lock.
type Observer interface {
	// OnReady fires once, when every initially resolved host has connected.
	OnReady()
	// OnError reports cluster-level failures (ErrDiscoveryFailed,
	// ErrNoConnections) and non-fatal connection errors.
	OnError(err error)
	// OnEnd fires once, when the router ends.
	OnEnd()
}

type nopObserver struct{}

func (nopObserver) OnReady()      {}
func (nopObserver) OnError(error) {}
func (nopObserver) OnEnd()        {}

// Options configure a Router.
type Options struct {
	Table            command.Table
	VirtualNodes     int
	LookupCacheSize  int
	OfflineQueueSize int
	Transport        transport.Options
	Observer         Observer
	Log              *slog.Logger
	Metrics          metrics.ClientMetrics
}

type state int

const (
	stateOffline state = iota
	stateAttached
	stateEnded
)

// Router routes commands to per-server transports. It is safe for concurrent use.
type Router struct {
	opts     Options
	table    command.Table
	log      *slog.Logger
	metrics  metrics.ClientMetrics
	observer Observer

	mu           sync.Mutex
	state        state
	ring         *hash.Ring
	live         map[string]*transport.Transport
	replacements []hosts.Host
	offline      *queue.Offline
	expected     int
	connected    map[string]bool
	ready        bool
}

// New returns a router in the offline state.
func New(opts Options) *Router {
	if opts.Table == nil {
		opts.Table = command.DefaultTable()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	opts.Transport.Log = opts.Log
	opts.Transport.Metrics = opts.Metrics

	return &Router{
		opts:      opts,
		table:     opts.Table,
		log:       opts.Log,
		metrics:   opts.Metrics,
		observer:  opts.Observer,
		ring:      hash.New(opts.VirtualNodes, opts.LookupCacheSize),
		live:      make(map[string]*transport.Transport),
		offline:   queue.New(opts.OfflineQueueSize),
		connected: make(map[string]bool),
	}
}

// Submit routes cmd with args and returns a handle for its reply. It never
// blocks on the network.
func (r *Router) Submit(cmd string, args ...any) *result.Handle {
	h := result.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitLocked(cmd, args, h)
	return h
}

func (r *Router) submitLocked(cmd string, args []any, h *result.Handle) {
	switch r.state {
	case stateEnded:
		r.reject(h, metrics.ReasonEnded, ErrClientEnded)
		return
	case stateOffline:
		if err := r.offline.Push(cmd, args, h); err != nil {
			r.reject(h, metrics.ReasonQueueFull, err)
			return
		}
		r.metrics.CommandQueued()
		return
	}
	r.routeLocked(cmd, args, h)
}

func (r *Router) routeLocked(cmd string, args []any, h *result.Handle) {
	policy := r.table.Lookup(cmd)
	if _, ok := policy.(command.Unsupported); ok {
		r.reject(h, metrics.ReasonNotSupported, fmt.Errorf("%w: %s", ErrCommandNotSupported, cmd))
		return
	}
	if len(r.live) == 0 {
		r.reject(h, metrics.ReasonUnresolved, ErrNoConnections)
		return
	}

	if p, ok := policy.(command.Custom); ok {
		p.Route(dispatcher{r}, cmd, args, h)
		return
	}

	if r.ring.Len() == 1 {
		r.dispatchLocked(r.ring.Members()[0], cmd, args, h)
		return
	}

	switch p := policy.(type) {
	case command.SingleKey:
		if p.Arg < 0 || p.Arg >= len(args) {
			r.reject(h, metrics.ReasonNotSupported,
				fmt.Errorf("%w: %s: no key at argument %d", ErrCommandNotSupported, cmd, p.Arg))
			return
		}
		id, err := r.locateLocked(protocol.Stringify(args[p.Arg]))
		if err != nil {
			r.reject(h, metrics.ReasonUnresolved, err)
			return
		}
		r.dispatchLocked(id, cmd, args, h)
	case command.RingWide:
		servers := r.serversLocked()
		parts := make([]command.Part, len(servers))
		for i, id := range servers {
			parts[i] = command.Part{Server: id, Command: cmd, Args: args}
		}
		command.FanOut(dispatcher{r}, parts, p.Merge, h)
	default:
		r.reject(h, metrics.ReasonNotSupported, fmt.Errorf("%w: %s", ErrCommandNotSupported, cmd))
	}
}

func (r *Router) reject(h *result.Handle, reason string, err error) {
	r.metrics.CommandRejected(reason)
	h.Reject(err)
}

func (r *Router) locateLocked(key string) (string, error) {
	id := r.ring.Get(hash.ShardKey(key))
	if id == "" {
		return "", fmt.Errorf("%w: no ring member for key %q", ErrUnresolvedServer, key)
	}
	return id, nil
}

func (r *Router) dispatchLocked(id, cmd string, args []any, h *result.Handle) {
	t, ok := r.live[id]
	if !ok {
		r.reject(h, metrics.ReasonUnresolved, fmt.Errorf("%w: %s", ErrUnresolvedServer, id))
		return
	}
	t.Write(cmd, args, h)
}

func (r *Router) serversLocked() []string {
	out := make([]string, 0, len(r.live))
	for id := range r.live {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// dispatcher is the command.Dispatcher handed to custom routes; the router
// lock is held for as long as it is in use.
type dispatcher struct{ r *Router }

func (d dispatcher) Locate(key string) (string, error) { return d.r.locateLocked(key) }
func (d dispatcher) Servers() []string                 { return d.r.serversLocked() }
func (d dispatcher) Dispatch(id, cmd string, args []any, h *result.Handle) {
	d.r.dispatchLocked(id, cmd, args, h)
}

// Bootstrap resolves the hosts, attaches a transport to each and replays the
// offline queue through Submit. A resolver failure is reported as
// ErrDiscoveryFailed and ends the router.
func (r *Router) Bootstrap(ctx context.Context, resolver hosts.Resolver) error {
	res, err := resolver.Resolve(ctx)
	if err == nil && len(res.Hosts) == 0 {
		err = fmt.Errorf("no hosts resolved")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
		r.log.Error("bootstrap failed", slog.Any("error", err))
		r.observer.OnError(err)
		r.End()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateEnded:
		return ErrClientEnded
	case stateAttached:
		return fmt.Errorf("router already bootstrapped")
	}

	r.ring = hash.New(r.opts.VirtualNodes, r.opts.LookupCacheSize)
	r.replacements = res.Replacements
	r.expected = len(res.Hosts)
	for _, h := range res.Hosts {
		if err := r.addServerLocked(h, nil); err != nil {
			return err
		}
	}
	r.state = stateAttached
	r.log.Info("attached servers",
		slog.Int("servers", len(res.Hosts)),
		slog.Int("replacements", len(res.Replacements)))

	entries := r.offline.Drain()
	for _, e := range entries {
		r.submitLocked(e.Command, e.Args, e.Handle)
	}
	if len(entries) > 0 {
		r.log.Debug("replayed offline queue", slog.Int("commands", len(entries)))
	}
	return nil
}

// AddServer attaches h as a new ring member.
func (r *Router) AddServer(h hosts.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateEnded:
		return ErrClientEnded
	case stateOffline:
		return ErrNotBootstrapped
	}
	return r.addServerLocked(h, nil)
}

// AddReplacement queues a spare host to be promoted when a server is removed.
func (r *Router) AddReplacement(h hosts.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateEnded {
		return ErrClientEnded
	}
	r.replacements = append(r.replacements, h)
	return nil
}

// RemoveServer drops the server with identity id, promoting a replacement
// into its ring slots when one is queued.
func (r *Router) RemoveServer(id string) error {
	r.mu.Lock()
	ended := r.state == stateEnded
	t, ok := r.live[id]
	r.mu.Unlock()
	if ended {
		return ErrClientEnded
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedServer, id)
	}
	r.removeServer(t, fmt.Errorf("removed"))
	return nil
}

func (r *Router) addServerLocked(h hosts.Host, replaced *hosts.Host) error {
	id := h.ID()
	if _, exists := r.live[id]; exists {
		return fmt.Errorf("server %s already attached", id)
	}

	m := &member{r: r}
	m.t = transport.New(h, m, r.opts.Transport)
	r.live[id] = m.t

	if replaced != nil && r.ring.Has(replaced.ID()) {
		if err := r.ring.Replace(replaced.ID(), id); err != nil {
			return err
		}
		r.log.Info("replaced server", slog.String("old", replaced.ID()), slog.String("new", id))
	} else {
		r.ring.Add(id, h.Weight)
		r.log.Info("added server", slog.String("server", id), slog.Int("weight", h.Weight))
	}
	r.metrics.LiveServers(len(r.live))
	return nil
}

func (r *Router) removeServer(t *transport.Transport, cause error) {
	h := t.Host()
	id := h.ID()

	r.mu.Lock()
	if r.state == stateEnded || r.live[id] != t {
		r.mu.Unlock()
		return
	}
	delete(r.live, id)
	delete(r.connected, id)

	promoted := ""
	var addErr error
	if len(r.replacements) > 0 {
		next := r.replacements[0]
		r.replacements = r.replacements[1:]
		promoted = next.ID()
		if addErr = r.addServerLocked(next, &h); addErr != nil {
			r.ring.Remove(id)
		}
	} else {
		r.ring.Remove(id)
	}
	remaining := len(r.live)
	r.metrics.LiveServers(remaining)
	r.mu.Unlock()

	t.End()
	r.log.Info("removed server",
		slog.String("server", id),
		slog.String("replacement", promoted),
		slog.Any("cause", cause))
	if addErr != nil {
		r.observer.OnError(fmt.Errorf("promote %s: %w", promoted, addErr))
	}
	if remaining == 0 {
		r.log.Error("no servers left")
		r.observer.OnError(ErrNoConnections)
	}
}

func (r *Router) serverConnected(t *transport.Transport) {
	id := t.Host().ID()

	r.mu.Lock()
	if r.state == stateEnded || r.live[id] != t {
		r.mu.Unlock()
		return
	}
	r.connected[id] = true
	fire := !r.ready && len(r.connected) >= r.expected
	if fire {
		r.ready = true
	}
	r.mu.Unlock()

	if fire {
		r.log.Info("all servers connected")
		r.observer.OnReady()
	}
}

// End ends every transport, rejects queued commands with ErrClientEnded and
// makes every later Submit fail with it. Later calls are no-ops.
func (r *Router) End() {
	r.mu.Lock()
	if r.state == stateEnded {
		r.mu.Unlock()
		return
	}
	r.state = stateEnded
	live := r.live
	r.live = make(map[string]*transport.Transport)
	r.metrics.LiveServers(0)
	r.mu.Unlock()

	for _, t := range live {
		t.End()
	}
	if n := r.offline.Flush(ErrClientEnded); n > 0 {
		r.log.Debug("flushed offline queue", slog.Int("commands", n))
	}
	r.observer.OnEnd()
}

// Ended reports whether End was called.
func (r *Router) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateEnded
}

// Servers returns the identities of the live servers, ascending.
func (r *Router) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serversLocked()
}

// Transport returns the live transport for identity id, or nil.
func (r *Router) Transport(id string) *transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[id]
}

// Ring returns the current ring. Callers must treat it as read-only.
func (r *Router) Ring() *hash.Ring {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring
}

// Locate returns the identity of the server owning key.
func (r *Router) Locate(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locateLocked(key)
}

// Queued returns the number of commands waiting in the offline queue.
func (r *Router) Queued() int { return r.offline.Len() }

// member adapts transport events for one transport back to the router.
type member struct {
	r *Router
	t *transport.Transport // set under r.mu before any callback can read it
}

func (m *member) current() *transport.Transport {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	return m.t
}

func (m *member) OnConnect(hosts.Host) {
	m.r.serverConnected(m.current())
}

func (m *member) OnReconnecting(h hosts.Host, cause error) {
	m.r.log.Debug("server reconnecting", slog.String("server", h.ID()), slog.Any("error", cause))
}

func (m *member) OnUnrecoverable(_ hosts.Host, cause error) {
	m.r.removeServer(m.current(), cause)
}

func (m *member) OnError(_ hosts.Host, err error) {
	m.r.observer.OnError(err)
}
