// Package config provides configuration management for the shardis client and
// the development server.
//
// The package supports configuration through multiple sources with the following precedence:
//  1. Command-line flags (server only, highest priority)
//  2. Environment variables
//  3. Default values (lowest priority)
//
// Example client usage:
//
//	cfg := config.LoadClientConfig()
//	cfg.Nodes = []string{"cache-1:6379", "cache-2:6379:2"}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	c, err := client.New(cfg)
//
// Environment variables are prefixed with "SHARDIS_" and use uppercase names.
// For example, the server port can be set with SHARDIS_PORT=6379.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cachemir/shardis/internal/queue"
	"github.com/cachemir/shardis/pkg/hash"
	"github.com/cachemir/shardis/pkg/hosts"
	"github.com/cachemir/shardis/pkg/transport"
)

// Default configuration constants
const (
	DefaultServerPort       = 6379
	DefaultMaxConnections   = 1000
	DefaultReadTimeoutSecs  = 30
	DefaultWriteTimeoutSecs = 10
	DefaultConnTimeoutSecs  = 5
	DefaultReconnectDelayMs = 1000
	DefaultTableSeparator   = ":"
)

const envPrefix = "SHARDIS_"

// ServerConfig holds the options of the development server.
//
// Configuration sources (in order of precedence):
//  1. Command-line flags: -port, -host, -max-conns, etc.
//  2. Environment variables: SHARDIS_PORT, SHARDIS_HOST, etc.
//  3. Default values
type ServerConfig struct {
	Host         string // Host address to bind to (default: "0.0.0.0")
	LogLevel     string // Log level: debug, info, warn, error (default: "info")
	Password     string // Password required by AUTH; empty disables it
	Port         int    // TCP port to listen on (default: 6379)
	MaxConns     int    // Maximum concurrent connections (default: 1000)
	ReadTimeout  int    // Idle read timeout in seconds (default: 30)
	WriteTimeout int    // Write timeout in seconds (default: 10)
}

// ClientConfig holds the options of a shardis client.
//
// Configuration sources (in order of precedence):
//  1. Programmatic configuration
//  2. Environment variables: SHARDIS_NODES, SHARDIS_VIRTUAL_NODES, etc.
//  3. Default values
//
// Example:
//
//	cfg := &config.ClientConfig{
//		Nodes:          []string{"cache-1:6379", "cache-2:6379"},
//		VirtualNodes:   160,
//		ReconnectDelay: 500,
//	}
type ClientConfig struct {
	Nodes                []string // host:port[:weight] of every server (default: ["localhost:6379"])
	Password             string   // Sent with AUTH on every connection when set
	TableSeparator       string   // Separator between a table name and the rest of a key (default: ":")
	VirtualNodes         int      // Ring points per unit of weight (default: 160)
	LookupCacheSize      int      // Cached key lookups (default: 1024)
	ConnTimeout          int      // Connection timeout in seconds (default: 5)
	ReconnectDelay       int      // Fixed delay between reconnect attempts in milliseconds (default: 1000)
	MaxReconnectAttempts int      // Failed reconnects before a server is dropped; 0 never gives up
	OfflineQueueSize     int      // Commands buffered before the first servers attach (default: 1024)
	DiscoverTables       bool     // Recover table names from existing keys after bootstrap (default: true)
}

// LoadServerConfig creates a ServerConfig from defaults, environment variables
// and the command-line flags in args (normally os.Args[1:]).
//
// Command-line flags:
//
//	-port: Server port (default: 6379)
//	-host: Server host (default: "0.0.0.0")
//	-max-conns: Maximum connections (default: 1000)
//	-read-timeout: Read timeout in seconds (default: 30)
//	-write-timeout: Write timeout in seconds (default: 10)
//	-log-level: Log level (default: "info")
//	-requirepass: Password clients must AUTH with
//
// Environment variables:
//
//	SHARDIS_PORT, SHARDIS_HOST, SHARDIS_MAX_CONNS, SHARDIS_PASSWORD
func LoadServerConfig(args []string) (*ServerConfig, error) {
	config := &ServerConfig{
		Port:         DefaultServerPort,
		Host:         "0.0.0.0",
		MaxConns:     DefaultMaxConnections,
		ReadTimeout:  DefaultReadTimeoutSecs,
		WriteTimeout: DefaultWriteTimeoutSecs,
		LogLevel:     "info",
	}

	envInt("PORT", &config.Port)
	envString("HOST", &config.Host)
	envInt("MAX_CONNS", &config.MaxConns)
	envString("PASSWORD", &config.Password)

	fs := flag.NewFlagSet("shardis-server", flag.ContinueOnError)
	fs.IntVar(&config.Port, "port", config.Port, "Server port")
	fs.StringVar(&config.Host, "host", config.Host, "Server host")
	fs.IntVar(&config.MaxConns, "max-conns", config.MaxConns, "Maximum concurrent connections")
	fs.IntVar(&config.ReadTimeout, "read-timeout", config.ReadTimeout, "Read timeout in seconds")
	fs.IntVar(&config.WriteTimeout, "write-timeout", config.WriteTimeout, "Write timeout in seconds")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&config.Password, "requirepass", config.Password, "Password clients must AUTH with")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadClientConfig creates a ClientConfig from defaults and environment
// variables. Unparsable values are ignored and the default is kept.
//
// Environment variables:
//
//	SHARDIS_NODES: Comma-separated list of host:port[:weight]
//	SHARDIS_PASSWORD: AUTH password
//	SHARDIS_VIRTUAL_NODES: Ring points per unit of weight
//	SHARDIS_LOOKUP_CACHE_SIZE: Cached key lookups
//	SHARDIS_CONN_TIMEOUT: Connection timeout in seconds
//	SHARDIS_RECONNECT_DELAY_MS: Reconnect delay in milliseconds
//	SHARDIS_MAX_RECONNECT_ATTEMPTS: Failed reconnects before giving up
//	SHARDIS_OFFLINE_QUEUE_SIZE: Offline queue capacity
//	SHARDIS_TABLE_SEPARATOR: Table name separator
//	SHARDIS_DISCOVER_TABLES: true or false
func LoadClientConfig() *ClientConfig {
	config := DefaultClientConfig()

	if nodes := os.Getenv(envPrefix + "NODES"); nodes != "" {
		config.Nodes = strings.Split(nodes, ",")
		for i, node := range config.Nodes {
			config.Nodes[i] = strings.TrimSpace(node)
		}
	}
	envString("PASSWORD", &config.Password)
	envInt("VIRTUAL_NODES", &config.VirtualNodes)
	envInt("LOOKUP_CACHE_SIZE", &config.LookupCacheSize)
	envInt("CONN_TIMEOUT", &config.ConnTimeout)
	envInt("RECONNECT_DELAY_MS", &config.ReconnectDelay)
	envInt("MAX_RECONNECT_ATTEMPTS", &config.MaxReconnectAttempts)
	envInt("OFFLINE_QUEUE_SIZE", &config.OfflineQueueSize)
	envString("TABLE_SEPARATOR", &config.TableSeparator)
	if v := os.Getenv(envPrefix + "DISCOVER_TABLES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.DiscoverTables = b
		}
	}

	return config
}

// DefaultClientConfig returns a ClientConfig holding only default values.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Nodes:            []string{"localhost:6379"},
		TableSeparator:   DefaultTableSeparator,
		VirtualNodes:     hash.DefaultVirtualNodes,
		LookupCacheSize:  hash.DefaultLookupCacheSize,
		ConnTimeout:      DefaultConnTimeoutSecs,
		ReconnectDelay:   DefaultReconnectDelayMs,
		OfflineQueueSize: queue.DefaultSize,
		DiscoverTables:   true,
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Address returns the "host:port" string the server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the ServerConfig contains valid values.
//
// Validation rules:
//   - Port must be between 0 and 65535 (0 picks a free port)
//   - MaxConns must be positive
//   - ReadTimeout and WriteTimeout must be positive
//   - LogLevel must be one of: debug, info, warn, error
//
// Returns:
//   - nil if configuration is valid
//   - Error describing the first validation failure found
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ReadTimeout < 1 {
		return fmt.Errorf("read timeout must be positive: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write timeout must be positive: %d", c.WriteTimeout)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Validate checks if the ClientConfig contains valid values.
//
// Validation rules:
//   - At least one node must be specified, each a valid host:port[:weight]
//   - VirtualNodes, ConnTimeout and ReconnectDelay must be positive
//   - LookupCacheSize, MaxReconnectAttempts and OfflineQueueSize must be non-negative
//   - TableSeparator must not be empty
//
// Returns:
//   - nil if configuration is valid
//   - Error describing the first validation failure found
func (c *ClientConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be specified")
	}

	if _, err := c.Hosts(); err != nil {
		return err
	}

	return c.ValidateSettings()
}

// ValidateSettings checks everything Validate does except Nodes, for clients
// whose hosts come from a discovery resolver.
func (c *ClientConfig) ValidateSettings() error {
	if c.VirtualNodes < 1 {
		return fmt.Errorf("virtual nodes must be positive: %d", c.VirtualNodes)
	}

	if c.LookupCacheSize < 0 {
		return fmt.Errorf("lookup cache size must be non-negative: %d", c.LookupCacheSize)
	}

	if c.ConnTimeout < 1 {
		return fmt.Errorf("connection timeout must be positive: %d", c.ConnTimeout)
	}

	if c.ReconnectDelay < 1 {
		return fmt.Errorf("reconnect delay must be positive: %d", c.ReconnectDelay)
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be non-negative: %d", c.MaxReconnectAttempts)
	}

	if c.OfflineQueueSize < 0 {
		return fmt.Errorf("offline queue size must be non-negative: %d", c.OfflineQueueSize)
	}

	if c.TableSeparator == "" {
		return fmt.Errorf("table separator must not be empty")
	}

	return nil
}

// Hosts parses Nodes.
func (c *ClientConfig) Hosts() ([]hosts.Host, error) {
	return hosts.ParseList(c.Nodes)
}

// TransportOptions returns the per-connection options described by c.
func (c *ClientConfig) TransportOptions() transport.Options {
	return transport.Options{
		ConnectTimeout:       time.Duration(c.ConnTimeout) * time.Second,
		ReconnectDelay:       time.Duration(c.ReconnectDelay) * time.Millisecond,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Password:             c.Password,
	}
}
