// Package transport maintains one resilient connection to one backend server.
//
// A Transport frames commands into an outbox and matches each decoded reply
// to the oldest command still awaiting one; replies on a connection always
// come back in write order, so no request ids are needed. Each connection has
// one writer goroutine draining the outbox, so a server that stops reading
// never blocks Write or the locks of its callers.
//
// State machine:
//
//	Connecting   --connected-->        Connected
//	Connecting   --dial failure-->     Reconnecting
//	Connected    --close/error-->      Reconnecting  (pending commands rejected)
//	Reconnecting --timer fires-->      Connecting
//	any          --End / give up-->    Ended
//
// Loss signals for a connection that is already being replaced are ignored,
// so a socket that reports both an error and a close rejects its pending
// commands and arms the reconnect timer once.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cachemir/shardis/pkg/hosts"
	"github.com/cachemir/shardis/pkg/metrics"
	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/result"
)

// Defaults for Options.
const (
	DefaultReconnectDelay = time.Second
	DefaultConnectTimeout = 5 * time.Second

	readBufferSize = 16 << 10
)

// State is the connection state of a Transport.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Listener observes a transport. Callbacks run on the transport's own
// goroutines, never while the transport holds its lock.
type Listener interface {
	// OnConnect fires every time a connection attempt succeeds.
	OnConnect(h hosts.Host)
	// OnReconnecting fires once per lost connection, after its pending
	// commands were rejected and the reconnect timer was armed.
	OnReconnecting(h hosts.Host, cause error)
	// OnUnrecoverable fires when the transport gave up reconnecting and ended
	// itself. The owner should drop it.
	OnUnrecoverable(h hosts.Host, cause error)
	// OnError reports non-fatal connection errors such as undecodable replies
	// or a rejected AUTH.
	OnError(h hosts.Host, err error)
}

type nopListener struct{}

func (nopListener) OnConnect(hosts.Host)              {}
func (nopListener) OnReconnecting(hosts.Host, error)  {}
func (nopListener) OnUnrecoverable(hosts.Host, error) {}
func (nopListener) OnError(hosts.Host, error)         {}

// Options configure a Transport.
type Options struct {
	Dialer               Dialer
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int // consecutive failed attempts before giving up; 0 retries forever
	Password             string
	Log                  *slog.Logger
	Metrics              metrics.ClientMetrics
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Log == nil {
		o.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
	return o
}

// Transport is the connection to one Host. It is safe for concurrent use.
type Transport struct {
	host     hosts.Host
	id       string
	opts     Options
	listener Listener
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64 // bumped per connection attempt; stale goroutines compare against it
	conn       net.Conn
	outbox     bytes.Buffer // frames not yet handed to the writer
	outEnc     *protocol.Encoder
	wake       chan struct{} // signals the current connection's writer
	stop       chan struct{} // closed when the current connection is torn down
	pending    []*result.Handle
	timer      *time.Timer
	cancelDial context.CancelFunc
	failures   int
	writes     uint64
}

// New creates a transport for h and starts connecting.
func New(h hosts.Host, l Listener, opts Options) *Transport {
	opts = opts.withDefaults()
	if l == nil {
		l = nopListener{}
	}
	t := &Transport{
		host:     h,
		id:       h.ID(),
		opts:     opts,
		listener: l,
		log:      opts.Log.With(slog.String("server", h.ID())),
	}
	t.outEnc = protocol.NewEncoder(&t.outbox)

	t.mu.Lock()
	t.connectLocked()
	t.mu.Unlock()
	return t
}

// Host returns the server this transport talks to.
func (t *Transport) Host() hosts.Host { return t.host }

// State returns the current state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pending returns the number of commands awaiting a reply.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Writes returns the number of command frames accepted for writing.
func (t *Transport) Writes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// Write frames cmd with args into the outbox and queues h for the reply. It
// never touches the socket. While connecting the frame waits for the
// connection. While reconnecting h is rejected with ErrConnectionLost, after
// End with ErrTransportEnded.
func (t *Transport) Write(cmd string, args []any, h *result.Handle) {
	t.mu.Lock()
	switch t.state {
	case StateEnded:
		t.mu.Unlock()
		t.opts.Metrics.CommandRejected(metrics.ReasonEnded)
		h.Reject(fmt.Errorf("%w: %s", ErrTransportEnded, t.id))
		return
	case StateReconnecting:
		t.mu.Unlock()
		t.opts.Metrics.CommandRejected(metrics.ReasonConnectionLost)
		h.Reject(fmt.Errorf("%w: %s: reconnecting", ErrConnectionLost, t.id))
		return
	}

	// Encoding into a bytes.Buffer cannot fail.
	_ = t.outEnc.Encode(cmd, args)
	t.pending = append(t.pending, h)
	t.writes++
	n := len(t.pending)
	t.signalLocked()
	t.mu.Unlock()

	t.opts.Metrics.CommandDispatched(t.id)
	t.opts.Metrics.PendingReplies(t.id, n)
}

func (t *Transport) signalLocked() {
	if t.wake == nil {
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// End closes the connection, stops reconnecting and rejects every pending
// command with ErrTransportEnded. Later calls are no-ops.
func (t *Transport) End() {
	t.mu.Lock()
	if t.state == StateEnded {
		t.mu.Unlock()
		return
	}
	t.state = StateEnded
	t.gen++
	pending := t.teardownLocked()
	t.mu.Unlock()

	t.log.Debug("transport ended", slog.Int("rejected", len(pending)))
	err := fmt.Errorf("%w: %s", ErrTransportEnded, t.id)
	for _, h := range pending {
		h.Reject(err)
	}
	t.opts.Metrics.PendingReplies(t.id, 0)
}

// teardownLocked releases the socket, timer and in-flight dial, and hands back
// the pending handles for rejection.
func (t *Transport) teardownLocked() []*result.Handle {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.wake = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.outbox.Reset()
	pending := t.pending
	t.pending = nil
	return pending
}

func (t *Transport) connectLocked() {
	t.gen++
	t.state = StateConnecting
	t.outbox.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
	t.cancelDial = cancel
	go t.dial(ctx, cancel, t.gen)
}

func (t *Transport) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	t.log.Debug("dialing", slog.Uint64("attempt", gen))
	conn, err := t.opts.Dialer.DialContext(ctx, "tcp", t.id)
	if err != nil {
		t.lost(gen, fmt.Errorf("dial: %w", err))
		return
	}

	t.mu.Lock()
	if t.gen != gen || t.state != StateConnecting {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.cancelDial = nil
	t.conn = conn
	t.state = StateConnected
	t.failures = 0

	// A fresh decoder per connection: partial bytes of a dead socket never
	// leak into the next one.
	dec := protocol.NewDecoder()

	var auth *result.Handle
	if t.opts.Password != "" {
		auth = result.New()
		t.pending = append([]*result.Handle{auth}, t.pending...)
		t.prependAuthLocked()
	}
	wake, stop := make(chan struct{}, 1), make(chan struct{})
	t.wake, t.stop = wake, stop
	t.signalLocked()
	t.mu.Unlock()

	go t.readLoop(gen, conn, dec)
	go t.writeLoop(gen, conn, wake, stop)

	t.log.Debug("connected")
	if auth != nil {
		go t.watchAuth(auth)
	}
	t.listener.OnConnect(t.host)
}

// prependAuthLocked puts the AUTH frame ahead of the frames buffered while
// connecting.
func (t *Transport) prependAuthLocked() {
	var frames bytes.Buffer
	_ = protocol.NewEncoder(&frames).Encode("AUTH", []any{t.opts.Password})
	frames.Write(t.outbox.Bytes())
	t.outbox.Reset()
	t.outbox.Write(frames.Bytes())
}

// writeLoop hands the outbox to conn until the connection is torn down. Only
// this goroutine writes to conn.
func (t *Transport) writeLoop(gen uint64, conn net.Conn, wake, stop <-chan struct{}) {
	var frames []byte
	for {
		select {
		case <-stop:
			return
		case <-wake:
		}

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		frames = append(frames[:0], t.outbox.Bytes()...)
		t.outbox.Reset()
		t.mu.Unlock()

		if len(frames) == 0 {
			continue
		}
		if _, err := conn.Write(frames); err != nil {
			t.lost(gen, fmt.Errorf("write: %w", err))
			return
		}
	}
}

func (t *Transport) watchAuth(h *result.Handle) {
	_, err := h.Result()
	var serr *protocol.ServerError
	if errors.As(err, &serr) {
		t.log.Warn("authentication failed", slog.Any("error", err))
		t.listener.OnError(t.host, fmt.Errorf("auth %s: %w", t.id, err))
	}
}

func (t *Transport) readLoop(gen uint64, conn net.Conn, dec *protocol.Decoder) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			replies, derr := dec.Feed(buf[:n])
			for _, v := range replies {
				t.deliver(gen, v)
			}
			if derr != nil {
				t.log.Warn("closing connection after undecodable reply", slog.Any("error", derr))
				t.rejectOldest(gen, derr)
				t.listener.OnError(t.host, fmt.Errorf("%s: %w", t.id, derr))
				// The next Read fails and starts the regular loss cycle.
				_ = conn.Close()
			}
		}
		if err != nil {
			t.lost(gen, err)
			return
		}
	}
}

func (t *Transport) popOldest(gen uint64) (*result.Handle, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || len(t.pending) == 0 {
		return nil, 0, false
	}
	h := t.pending[0]
	t.pending[0] = nil
	t.pending = t.pending[1:]
	return h, len(t.pending), true
}

func (t *Transport) deliver(gen uint64, v protocol.Value) {
	h, n, ok := t.popOldest(gen)
	if !ok {
		t.log.Warn("reply without a pending command", slog.String("reply", v.String()))
		return
	}
	t.opts.Metrics.PendingReplies(t.id, n)
	h.Settle(v)
}

func (t *Transport) rejectOldest(gen uint64, err error) {
	if h, n, ok := t.popOldest(gen); ok {
		t.opts.Metrics.PendingReplies(t.id, n)
		h.Reject(err)
	}
}

// lost handles the loss of connection attempt gen.
func (t *Transport) lost(gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.gen || (t.state != StateConnected && t.state != StateConnecting) {
		t.mu.Unlock()
		return
	}
	pending := t.teardownLocked()
	t.failures++
	giveUp := t.opts.MaxReconnectAttempts > 0 && t.failures > t.opts.MaxReconnectAttempts
	if giveUp {
		t.state = StateEnded
		t.gen++
	} else {
		t.state = StateReconnecting
		t.timer = time.AfterFunc(t.opts.ReconnectDelay, t.reconnect)
	}
	failures := t.failures
	t.mu.Unlock()

	err := fmt.Errorf("%w: %s: %v", ErrConnectionLost, t.id, cause)
	for _, h := range pending {
		h.Reject(err)
	}
	t.opts.Metrics.PendingReplies(t.id, 0)

	if giveUp {
		t.log.Warn("giving up on server", slog.Int("failures", failures), slog.Any("error", cause))
		t.listener.OnUnrecoverable(t.host, err)
		return
	}
	t.log.Warn("connection lost, reconnecting",
		slog.Any("error", cause),
		slog.Int("rejected", len(pending)),
		slog.Duration("delay", t.opts.ReconnectDelay))
	t.opts.Metrics.Reconnect(t.id)
	t.listener.OnReconnecting(t.host, cause)
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateReconnecting {
		return
	}
	t.timer = nil
	t.connectLocked()
}
