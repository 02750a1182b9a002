// Package shardis is a sharding client for RESP servers, plus a small
// RESP-speaking cache server to run it against.
//
// The client spreads keys over a set of independent servers with a
// consistent-hash ring and keeps one resilient connection per server.
// Commands are routed by name:
//
//   - single-key commands go to the server owning the key,
//   - commands such as KEYS, DBSIZE and FLUSHALL go to every server and
//     their replies are merged,
//   - MGET, MSET, DEL and EXISTS are split per owning server and
//     reassembled,
//   - connection-state commands (AUTH, SELECT, MULTI, SUBSCRIBE, ...) are
//     rejected.
//
// Keys containing a non-empty {hash tag} are placed by the tag alone, so
// "{user:1}:name" and "{user:1}:email" always share a server.
//
// # Architecture
//
//   - pkg/hosts: host identities ("host:port", "ip:port:weight")
//   - pkg/hash: the consistent-hash ring and hash-tag extraction
//   - pkg/protocol: RESP framing and incremental reply decoding
//   - pkg/transport: one connection per server with reconnects, AUTH and
//     FIFO reply correlation
//   - pkg/command: routing policies and the default command table
//   - pkg/router: the shard router tying ring, transports and the offline
//     queue together
//   - pkg/client: the public client with typed command helpers
//   - pkg/config: client and server configuration from flags and the
//     environment
//   - pkg/metrics: client instrumentation, with a Prometheus implementation
//   - pkg/cache, internal/server: the in-memory cache server
//
// # Quick Start
//
// Server:
//
//	shardis-server -port 6379 -requirepass secret
//
// Client:
//
//	cfg := config.DefaultClientConfig()
//	cfg.Nodes = []string{"10.0.0.1:6379", "10.0.0.2:6379:2"}
//	cfg.Password = "secret"
//
//	c, err := client.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	// Commands issued before the servers are connected are queued.
//	err = c.Set(ctx, "user:123", "john_doe", time.Hour)
//	value, err := c.Get(ctx, "user:123")
//
//	// Raw commands go through Do; the reply is a protocol.Value.
//	reply, err := c.Do(ctx, "ZADD", "scores", 10, "alice")
//
// # Failure Handling
//
// A server whose connection drops is reconnected after a fixed delay.
// Commands written to it and not yet answered fail with
// client.ErrConnectionLost; commands issued while it reconnects wait in its
// outbox. After MaxReconnectAttempts consecutive failures the server is
// removed, and a registered replacement takes over its ring positions so
// only its keys move. When no server is left every command fails with
// client.ErrNoConnections.
//
// Client errors that are not tied to a single command are delivered on
// Client.Errors.
//
// # Configuration
//
// The client reads SHARDIS_NODES, SHARDIS_PASSWORD, SHARDIS_VIRTUAL_NODES,
// SHARDIS_CONN_TIMEOUT, SHARDIS_RECONNECT_DELAY_MS,
// SHARDIS_MAX_RECONNECT_ATTEMPTS and SHARDIS_OFFLINE_QUEUE_SIZE through
// config.LoadClientConfig. The server takes command-line flags, with
// SHARDIS_PORT, SHARDIS_HOST, SHARDIS_MAX_CONNS and SHARDIS_PASSWORD as
// defaults.
package shardis
