// Package client provides the application-facing shardis client.
//
// A Client spreads keys over a set of RESP servers with a consistent-hash
// ring, keeps one self-healing connection per server and never blocks the
// caller on the network: every command returns a result handle, and the
// typed helpers simply wait on it with the caller's context.
//
// Basic Usage:
//
//	cfg := config.LoadClientConfig()
//	cfg.Nodes = []string{"cache-1:6379", "cache-2:6379", "cache-3:6379:2"}
//	c, err := client.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Set(ctx, "user:123", "john_doe", time.Hour)
//	value, err := c.Get(ctx, "user:123")
//
//	// Keys sharing a {tag} always live on the same server.
//	c.HSet(ctx, "{user:123}:profile", "name", "John Doe")
//	c.SAdd(ctx, "{user:123}:tags", "golang")
//
// Commands submitted before the servers are attached are queued and routed
// once bootstrap completes. Cluster-level problems are reported on Errors;
// Ready is closed once every initial server connected and Done once the
// client ended.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"

	"github.com/cachemir/shardis/pkg/command"
	"github.com/cachemir/shardis/pkg/config"
	"github.com/cachemir/shardis/pkg/hosts"
	"github.com/cachemir/shardis/pkg/metrics"
	shardisprom "github.com/cachemir/shardis/pkg/metrics/prometheus"
	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/result"
	"github.com/cachemir/shardis/pkg/router"
	"github.com/cachemir/shardis/pkg/transport"
)

// DefaultErrorBuffer is the capacity of the Errors channel.
const DefaultErrorBuffer = 16

// Client is a sharding client. It is safe for concurrent use.
type Client struct {
	cfg    config.ClientConfig
	router *router.Router
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	errs      chan error

	tablesMu sync.RWMutex
	tables   map[string]struct{}
}

type options struct {
	log      *slog.Logger
	metrics  metrics.ClientMetrics
	resolver hosts.Resolver
	dialer   transport.Dialer
	commands command.Table
}

// Option customizes a Client.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.ClientMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPrometheus registers the client's collectors with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = shardisprom.New(reg) }
}

// WithResolver resolves hosts with r instead of the configured Nodes, e.g. a
// hosts.DiscoveryFunc asking a registry. Replacement hosts it returns are
// promoted when servers are removed.
func WithResolver(r hosts.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithDialer sets the dialer used for server connections.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCommands adds or overrides routing policies on top of the default table.
func WithCommands(t command.Table) Option {
	return func(o *options) { o.commands = t }
}

// New validates cfg, creates the client and starts bootstrapping in the
// background. It does not wait for any connection.
func New(cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.resolver == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		hs, err := cfg.Hosts()
		if err != nil {
			return nil, err
		}
		o.resolver = hosts.Static(hs)
	} else if err := cfg.ValidateSettings(); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	table := command.DefaultTable()
	if o.commands != nil {
		table = table.With(o.commands)
	}
	topts := cfg.TransportOptions()
	topts.Dialer = o.dialer

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    *cfg,
		log:    o.log,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		errs:   make(chan error, DefaultErrorBuffer),
		tables: make(map[string]struct{}),
	}
	c.router = router.New(router.Options{
		Table:            table,
		VirtualNodes:     cfg.VirtualNodes,
		LookupCacheSize:  cfg.LookupCacheSize,
		OfflineQueueSize: cfg.OfflineQueueSize,
		Transport:        topts,
		Observer:         observer{c},
		Log:              o.log,
		Metrics:          o.metrics,
	})

	go c.bootstrap(o.resolver)
	return c, nil
}

func (c *Client) bootstrap(resolver hosts.Resolver) {
	if err := c.router.Bootstrap(c.ctx, resolver); err != nil {
		return
	}
	if c.cfg.DiscoverTables {
		c.discoverTables()
	}
}

// discoverTables recovers table names from the prefixes of existing keys.
func (c *Client) discoverTables() {
	sep := c.cfg.TableSeparator
	keys, err := c.Keys(c.ctx, "*"+sep+"*")
	if err != nil {
		if c.ctx.Err() == nil {
			c.report(fmt.Errorf("table discovery: %w", err))
		}
		return
	}
	for _, key := range keys {
		if name, _, ok := strings.Cut(key, sep); ok && name != "" {
			c.RegisterTable(name)
		}
	}
	c.log.Debug("discovered tables", slog.Int("tables", len(c.Tables())))
}

func (c *Client) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.log.Warn("error channel full, dropping error", slog.Any("error", err))
	}
}

// observer forwards router events to the client's channels.
type observer struct{ c *Client }

func (o observer) OnReady()          { o.c.readyOnce.Do(func() { close(o.c.ready) }) }
func (o observer) OnError(err error) { o.c.report(err) }
func (o observer) OnEnd()            { o.c.doneOnce.Do(func() { close(o.c.done) }) }

// Ready is closed once every initially resolved server has connected.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Done is closed once the client has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Errors delivers cluster-level errors (ErrDiscoveryFailed, ErrNoConnections)
// and connection errors such as rejected AUTH or undecodable replies. Errors
// are dropped when nobody drains the channel.
func (c *Client) Errors() <-chan error { return c.errs }

// WaitReady blocks until Ready, Done or ctx.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return ErrClientEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit routes a raw command and returns its handle without waiting.
func (c *Client) Submit(cmd string, args ...any) *result.Handle {
	return c.router.Submit(cmd, args...)
}

// Do routes a raw command and waits for its reply. Error replies come back as
// *ServerError. Giving up on ctx does not cancel the command.
func (c *Client) Do(ctx context.Context, cmd string, args ...any) (protocol.Value, error) {
	return c.router.Submit(cmd, args...).Wait(ctx)
}

// AddServer attaches a server given as host:port[:weight].
func (c *Client) AddServer(spec string) error {
	h, err := hosts.Parse(spec)
	if err != nil {
		return err
	}
	return c.router.AddServer(h)
}

// AddReplacement queues a spare server, given as host:port[:weight], to take
// over the ring slots of the next removed server.
func (c *Client) AddReplacement(spec string) error {
	h, err := hosts.Parse(spec)
	if err != nil {
		return err
	}
	return c.router.AddReplacement(h)
}

// RemoveServer detaches the server with identity host:port.
func (c *Client) RemoveServer(id string) error {
	return c.router.RemoveServer(id)
}

// Servers returns the identities of the live servers.
func (c *Client) Servers() []string { return c.router.Servers() }

// ServerFor returns the identity of the server owning key.
func (c *Client) ServerFor(key string) (string, error) { return c.router.Locate(key) }

// RegisterTable records a logical table name.
func (c *Client) RegisterTable(name string) {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	c.tables[name] = struct{}{}
}

// Tables returns the known table names, sorted.
func (c *Client) Tables() []string {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()

	out := make([]string, 0, len(c.tables))
	for name := range c.tables {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// TableKey returns the key of id in table, registering the table.
func (c *Client) TableKey(table, id string) string {
	c.RegisterTable(table)
	return table + c.cfg.TableSeparator + id
}

// Close ends the client. Pending and later commands fail with ErrClientEnded
// or ErrTransportEnded.
func (c *Client) Close() error {
	c.cancel()
	c.router.End()
	return nil
}
