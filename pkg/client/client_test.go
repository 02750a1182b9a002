package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/shardis/internal/server"
	"github.com/cachemir/shardis/pkg/command"
	"github.com/cachemir/shardis/pkg/config"
	"github.com/cachemir/shardis/pkg/hosts"
)

const waitTimeout = 5 * time.Second

func startServer(t *testing.T, password string) *server.Server {
	t.Helper()
	cfg, err := config.LoadServerConfig(nil)
	require.NoError(t, err)
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Password = password

	srv := server.New(cfg)
	_, err = srv.Listen(t.Context())
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func addr(srv *server.Server) string { return srv.Addr().String() }

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	srv := startServer(t, "")
	a := addr(srv)
	require.NoError(t, srv.Stop())
	return a
}

func newClient(t *testing.T, nodes []string, mutate func(*config.ClientConfig), opts ...Option) *Client {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.Nodes = nodes
	cfg.ReconnectDelay = 10
	cfg.ConnTimeout = 1
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func waitError(t *testing.T, c *Client, target error) error {
	t.Helper()
	return waitErrorMatching(t, c, func(err error) bool { return errors.Is(err, target) })
}

func waitErrorMatching(t *testing.T, c *Client, match func(error) bool) error {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case err := <-c.Errors():
			if match(err) {
				return err
			}
		case <-deadline:
			t.Fatal("expected error was not reported")
			return nil
		}
	}
}

func TestTypedHelpersAcrossServers(t *testing.T) {
	a, b := startServer(t, ""), startServer(t, "")
	byID := map[string]*server.Server{addr(a): a, addr(b): b}
	c := newClient(t, []string{addr(a), addr(b)}, nil)
	ctx := testContext(t)
	require.NoError(t, c.WaitReady(ctx))

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("user:%d", i)
		require.NoError(t, c.Set(ctx, key, fmt.Sprint(i), 0))

		owner, err := c.ServerFor(key)
		require.NoError(t, err)
		v, ok, err := byID[owner].Cache().Get(key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.Equal(t, fmt.Sprint(i), v)
	}
	assert.NotZero(t, a.Cache().DBSize())
	assert.NotZero(t, b.Cache().DBSize())

	v, err := c.Get(ctx, "user:7")
	require.NoError(t, err)
	assert.Equal(t, "7", v)
	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNil)

	n, err := c.Incr(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.IncrBy(ctx, "hits", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	n, err = c.Decr(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	require.NoError(t, c.HSet(ctx, "profile", "name", "ada"))
	h, err := c.HGetAll(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "ada"}, h)
	name, err := c.HGet(ctx, "profile", "name")
	require.NoError(t, err)
	assert.Equal(t, "ada", name)

	_, err = c.RPush(ctx, "queue", "x", "y")
	require.NoError(t, err)
	n, err = c.LPush(ctx, "queue", "w")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	head, err := c.LPop(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, "w", head)

	_, err = c.SAdd(ctx, "tags", "go", "cache")
	require.NoError(t, err)
	members, err := c.SMembers(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "go"}, members)

	ok, err := c.Expire(ctx, "user:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ttl, err := c.TTL(ctx, "user:1")
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Second)
	ttl, err = c.TTL(ctx, "user:2")
	require.NoError(t, err)
	assert.Equal(t, -1*time.Second, ttl)

	got, err := c.MGet(ctx, "user:1", "nope", "user:2", "user:3")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user:1": "1", "user:2": "2", "user:3": "3"}, got)

	require.NoError(t, c.MSet(ctx, map[string]string{"m:1": "a", "m:2": "b", "m:3": "c"}))
	cnt, err := c.Exists(ctx, "m:1", "m:2", "m:3", "m:4")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cnt)
	cnt, err = c.Del(ctx, "m:1", "m:2", "m:3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cnt)

	keys, err := c.Keys(ctx, "user:*")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
	size, err := c.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(a.Cache().DBSize()+b.Cache().DBSize()), size)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.FlushAll(ctx))
	size, err = c.DBSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestHashTaggedKeysLandTogether(t *testing.T) {
	a, b := startServer(t, ""), startServer(t, "")
	c := newClient(t, []string{addr(a), addr(b)}, nil)
	ctx := testContext(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("{order:42}:line:%d", i), "x", 0))
	}
	counts := []int{a.Cache().DBSize(), b.Cache().DBSize()}
	sort.Ints(counts)
	assert.Equal(t, []int{0, 10}, counts)
}

type gatedDialer struct {
	gate chan struct{}
}

func (d gatedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

func TestCommandsSubmittedBeforeConnectAreDelivered(t *testing.T) {
	srv := startServer(t, "")
	d := gatedDialer{gate: make(chan struct{})}
	c := newClient(t, []string{addr(srv)}, func(cfg *config.ClientConfig) { cfg.ConnTimeout = 5 }, WithDialer(d))

	set := c.Submit("SET", "early", "bird")
	unsupported := c.Submit("SUBSCRIBE", "news")
	assert.False(t, set.Settled())
	close(d.gate)

	ctx := testContext(t)
	_, err := set.Wait(ctx)
	require.NoError(t, err)
	_, err = unsupported.Wait(ctx)
	assert.ErrorIs(t, err, ErrCommandNotSupported)

	v, err := c.Get(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, "bird", v)
}

func TestUnsupportedAndCustomCommands(t *testing.T) {
	srv := startServer(t, "")
	ctx := testContext(t)

	plain := newClient(t, []string{addr(srv)}, nil)
	_, err := plain.Do(ctx, "ECHO", "hi")
	assert.ErrorIs(t, err, ErrCommandNotSupported)

	custom := newClient(t, []string{addr(srv)}, nil,
		WithCommands(command.Table{"echo": command.RingWide{Merge: command.MergeFirst}}))
	v, err := custom.Do(ctx, "ECHO", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Str)
}

func TestServerErrorRejectsOnlyThatCommand(t *testing.T) {
	srv := startServer(t, "")
	c := newClient(t, []string{addr(srv)}, nil)
	ctx := testContext(t)

	require.NoError(t, c.Set(ctx, "word", "abc", 0))
	_, err := c.Incr(ctx, "word")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ERR", se.Prefix())

	v, err := c.Get(ctx, "word")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestReconnectsAfterServerDropsConnections(t *testing.T) {
	srv := startServer(t, "")
	c := newClient(t, []string{addr(srv)}, nil)
	ctx := testContext(t)
	require.NoError(t, c.WaitReady(ctx))
	require.NoError(t, c.Set(ctx, "k", "v", 0))

	require.Eventually(t, func() bool { return srv.DropConnections() > 0 }, waitTimeout, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		v, err := c.Get(ctx, "k")
		return err == nil && v == "v"
	}, waitTimeout, 20*time.Millisecond)
}

func TestPasswordIsSentOnConnect(t *testing.T) {
	srv := startServer(t, "s3cret")
	ctx := testContext(t)

	good := newClient(t, []string{addr(srv)}, func(cfg *config.ClientConfig) { cfg.Password = "s3cret" })
	require.NoError(t, good.Set(ctx, "k", "v", 0))
	v, err := good.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	bad := newClient(t, []string{addr(srv)}, func(cfg *config.ClientConfig) { cfg.Password = "wrong" })
	err = waitErrorMatching(t, bad, func(err error) bool {
		var se *ServerError
		return errors.As(err, &se) && se.Prefix() == "WRONGPASS"
	})
	assert.Contains(t, err.Error(), "auth")
}

func TestTableDiscovery(t *testing.T) {
	srv := startServer(t, "")
	srv.Cache().Set("users:1", "a", 0)
	srv.Cache().Set("orders:7", "b", 0)
	srv.Cache().Set("plain", "c", 0)

	c := newClient(t, []string{addr(srv)}, nil)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"orders", "users"}, c.Tables())
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, "sessions:9", c.TableKey("sessions", "9"))
	assert.Equal(t, []string{"orders", "sessions", "users"}, c.Tables())
}

func TestDiscoveryFailureEndsClient(t *testing.T) {
	c := newClient(t, nil, nil, WithResolver(hosts.DiscoveryFunc(func(context.Context) (hosts.Resolution, error) {
		return hosts.Resolution{}, errors.New("registry down")
	})))

	waitError(t, c, ErrDiscoveryFailed)
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("client did not end")
	}
	_, err := c.Do(testContext(t), "GET", "k")
	assert.ErrorIs(t, err, ErrClientEnded)
}

func TestUnrecoverableServerIsReplaced(t *testing.T) {
	dead := deadAddr(t)
	b, spare := startServer(t, ""), startServer(t, "")
	resolver := hosts.DiscoveryFunc(func(context.Context) (hosts.Resolution, error) {
		live, err := hosts.ParseList([]string{dead, addr(b)})
		if err != nil {
			return hosts.Resolution{}, err
		}
		repl, err := hosts.ParseList([]string{addr(spare)})
		return hosts.Resolution{Hosts: live, Replacements: repl}, err
	})
	c := newClient(t, nil, func(cfg *config.ClientConfig) { cfg.MaxReconnectAttempts = 1 }, WithResolver(resolver))

	want := []string{addr(b), addr(spare)}
	sort.Strings(want)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, c.Servers())
	}, waitTimeout, 10*time.Millisecond)

	ctx := testContext(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v", 0))
	}
	assert.Equal(t, 10, b.Cache().DBSize()+spare.Cache().DBSize())
}

func TestLosingEveryServerReportsNoConnections(t *testing.T) {
	c := newClient(t, []string{deadAddr(t)}, func(cfg *config.ClientConfig) { cfg.MaxReconnectAttempts = 1 })

	waitError(t, c, ErrNoConnections)
	_, err := c.Do(testContext(t), "GET", "k")
	assert.ErrorIs(t, err, ErrNoConnections)

	select {
	case <-c.Done():
		t.Fatal("client must stay alive without connections")
	default:
	}
}

func TestCloseEndsClient(t *testing.T) {
	srv := startServer(t, "")
	c := newClient(t, []string{addr(srv)}, nil)
	ctx := testContext(t)
	require.NoError(t, c.WaitReady(ctx))

	require.NoError(t, c.Close())
	<-c.Done()
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClientEnded)
	assert.ErrorIs(t, c.AddReplacement("127.0.0.1:1"), ErrClientEnded)
	assert.ErrorIs(t, c.RemoveServer(addr(srv)), ErrClientEnded)
}

func TestPrometheusMetrics(t *testing.T) {
	srv := startServer(t, "")
	reg := prometheus.NewRegistry()
	c := newClient(t, []string{addr(srv)}, nil, WithPrometheus(reg))
	ctx := testContext(t)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	_, err := c.Do(ctx, "SUBSCRIBE", "x")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			values[mf.GetName()] += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	assert.GreaterOrEqual(t, values["shardis_commands_dispatched_total"], 1.0)
	assert.Equal(t, 1.0, values["shardis_commands_rejected_total"])
	assert.Equal(t, 1.0, values["shardis_live_servers"])
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Nodes = []string{"not a host"}
	_, err := New(cfg)
	assert.ErrorIs(t, err, hosts.ErrInvalidHost)

	cfg = config.DefaultClientConfig()
	cfg.VirtualNodes = 0
	_, err = New(cfg, WithResolver(hosts.Static{}))
	assert.Error(t, err)
}

func TestSubMillisecondTTLIsRoundedUp(t *testing.T) {
	cases := map[time.Duration]int64{
		500 * time.Microsecond:  1,
		time.Millisecond:        1,
		1500 * time.Microsecond: 2,
		time.Second:             1000,
		0:                       0,
		-time.Second:            -1000,
	}
	for ttl, want := range cases {
		assert.Equal(t, want, millis(ttl), ttl)
	}

	srv := startServer(t, "")
	c := newClient(t, []string{addr(srv)}, nil)
	ctx := testContext(t)
	require.NoError(t, c.WaitReady(ctx))

	require.NoError(t, c.Set(ctx, "short", "v", 500*time.Microsecond))
	require.NoError(t, c.Set(ctx, "kept", "v", 0))
	ok, err := c.Expire(ctx, "kept", 200*time.Microsecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
