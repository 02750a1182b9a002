// Package server implements a development key-value server speaking RESP.
//
// It exists so the sharding client can be run and tested against real
// sockets without an external store. Each connection is served by its own
// goroutine; requests are decoded incrementally, executed against a
// cache.Cache, and the replies of one read batch are written back together.
//
// Example usage:
//
//	cfg, _ := config.LoadServerConfig(os.Args[1:])
//	srv := server.New(cfg)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// Supported commands:
//   - Connection: PING, ECHO, AUTH, QUIT
//   - Strings: GET, SET (EX/PX), MGET, MSET, INCR, DECR, INCRBY, DECRBY
//   - Keys: DEL, UNLINK, EXISTS, TYPE, EXPIRE, PEXPIRE, TTL, PTTL, PERSIST, KEYS
//   - Hashes: HGET, HSET, HDEL, HEXISTS, HGETALL
//   - Lists: LPUSH, RPUSH, LPOP, RPOP, LLEN
//   - Sets: SADD, SREM, SMEMBERS, SISMEMBER
//   - Server: DBSIZE, FLUSHALL, FLUSHDB
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cachemir/shardis/pkg/cache"
	"github.com/cachemir/shardis/pkg/config"
	"github.com/cachemir/shardis/pkg/protocol"
)

const readBufferSize = 16 * 1024

// Server is a RESP server instance.
//
// Example:
//
//	srv := server.New(cfg)
//	go func() {
//		if err := srv.Start(); err != nil {
//			log.Printf("Server error: %v", err)
//		}
//	}()
//
//	// Later, to stop the server
//	srv.Stop()
type Server struct {
	cache    *cache.Cache
	cfg      config.ServerConfig
	commands map[string]command

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// New creates a server for cfg. The server is not started until Start or
// Listen is called.
func New(cfg *config.ServerConfig) *Server {
	s := &Server{
		cache: cache.New(),
		cfg:   *cfg,
		conns: make(map[net.Conn]struct{}),
	}
	s.commands = s.commandTable()
	return s
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	if _, err := s.Listen(context.Background()); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the configured address and returns the bound address, which
// tells the caller the port when the configuration asked for port 0.
func (s *Server) Listen(ctx context.Context) (net.Addr, error) {
	addr := s.cfg.Address()
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Printf("shardis server listening on %s", listener.Addr())
	return listener.Addr(), nil
}

// Serve accepts connections on the bound listener until Stop is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Failed to accept connection: %v", err)
			continue
		}

		if !s.track(conn) {
			_, _ = conn.Write(protocol.AppendValue(nil, protocol.Error("ERR max number of clients reached")))
			_ = conn.Close()
			continue
		}
		go s.handleConnection(conn)
	}
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
	s.cache.Close()
	if listener != nil {
		return listener.Close()
	}
	return nil
}

// DropConnections closes every open client connection but keeps listening.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// Cache returns the keyspace served by s.
func (s *Server) Cache() *cache.Cache { return s.cache }

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.conns) >= s.cfg.MaxConns {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// session is the per-connection state.
type session struct {
	authed bool
	quit   bool
}

// handleConnection serves one client until it disconnects, sends QUIT, sends
// an undecodable frame or stays idle past the read timeout.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("Error closing connection: %v", err)
		}
	}()

	sess := &session{authed: s.cfg.Password == ""}
	dec := protocol.NewDecoder()
	buf := make([]byte, readBufferSize)
	var out []byte

	for {
		if err := conn.SetReadDeadline(time.Now().Add(time.Duration(s.cfg.ReadTimeout) * time.Second)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			reqs, derr := dec.Feed(buf[:n])
			out = out[:0]
			for _, req := range reqs {
				out = protocol.AppendValue(out, s.execute(sess, req))
				if sess.quit {
					break
				}
			}
			if derr != nil {
				out = protocol.AppendValue(out, protocol.Error("ERR Protocol error: "+derr.Error()))
			}
			if len(out) > 0 {
				if err := conn.SetWriteDeadline(time.Now().Add(time.Duration(s.cfg.WriteTimeout) * time.Second)); err != nil {
					return
				}
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
			if derr != nil || sess.quit {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) execute(sess *session, req protocol.Value) protocol.Value {
	args, err := req.Strings()
	if err != nil || len(args) == 0 {
		return protocol.Error("ERR Protocol error: expected an array of bulk strings")
	}
	name := strings.ToUpper(args[0])
	args = args[1:]

	cmd, ok := s.commands[name]
	if !ok {
		return protocol.Error(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(name)))
	}
	if !sess.authed && name != "AUTH" {
		return protocol.Error("NOAUTH Authentication required.")
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return protocol.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(name)))
	}
	return cmd.run(sess, args)
}
