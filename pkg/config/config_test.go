package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/shardis/pkg/hash"
)

func TestLoadClientConfigDefaults(t *testing.T) {
	cfg := LoadClientConfig()

	assert.Equal(t, []string{"localhost:6379"}, cfg.Nodes)
	assert.Equal(t, hash.DefaultVirtualNodes, cfg.VirtualNodes)
	assert.Equal(t, DefaultReconnectDelayMs, cfg.ReconnectDelay)
	assert.Equal(t, ":", cfg.TableSeparator)
	assert.True(t, cfg.DiscoverTables)
	assert.Zero(t, cfg.MaxReconnectAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("SHARDIS_NODES", "cache-1:6379, cache-2:6380:3")
	t.Setenv("SHARDIS_PASSWORD", "s3cret")
	t.Setenv("SHARDIS_VIRTUAL_NODES", "64")
	t.Setenv("SHARDIS_RECONNECT_DELAY_MS", "250")
	t.Setenv("SHARDIS_MAX_RECONNECT_ATTEMPTS", "4")
	t.Setenv("SHARDIS_OFFLINE_QUEUE_SIZE", "8")
	t.Setenv("SHARDIS_TABLE_SEPARATOR", "/")
	t.Setenv("SHARDIS_DISCOVER_TABLES", "false")
	t.Setenv("SHARDIS_CONN_TIMEOUT", "not-a-number")

	cfg := LoadClientConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"cache-1:6379", "cache-2:6380:3"}, cfg.Nodes)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, 64, cfg.VirtualNodes)
	assert.Equal(t, 4, cfg.MaxReconnectAttempts)
	assert.Equal(t, 8, cfg.OfflineQueueSize)
	assert.Equal(t, "/", cfg.TableSeparator)
	assert.False(t, cfg.DiscoverTables)
	assert.Equal(t, DefaultConnTimeoutSecs, cfg.ConnTimeout)

	hs, err := cfg.Hosts()
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, 3, hs[1].Weight)

	opts := cfg.TransportOptions()
	assert.Equal(t, 250*time.Millisecond, opts.ReconnectDelay)
	assert.Equal(t, 5*time.Second, opts.ConnectTimeout)
	assert.Equal(t, "s3cret", opts.Password)
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ClientConfig)
	}{
		{"no nodes", func(c *ClientConfig) { c.Nodes = nil }},
		{"bad node", func(c *ClientConfig) { c.Nodes = []string{"no-port"} }},
		{"zero weight", func(c *ClientConfig) { c.Nodes = []string{"a:1:0"} }},
		{"virtual nodes", func(c *ClientConfig) { c.VirtualNodes = 0 }},
		{"lookup cache", func(c *ClientConfig) { c.LookupCacheSize = -1 }},
		{"conn timeout", func(c *ClientConfig) { c.ConnTimeout = 0 }},
		{"reconnect delay", func(c *ClientConfig) { c.ReconnectDelay = 0 }},
		{"max attempts", func(c *ClientConfig) { c.MaxReconnectAttempts = -1 }},
		{"queue size", func(c *ClientConfig) { c.OfflineQueueSize = -1 }},
		{"separator", func(c *ClientConfig) { c.TableSeparator = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	t.Setenv("SHARDIS_PORT", "7000")
	t.Setenv("SHARDIS_PASSWORD", "from-env")

	cfg, err := LoadServerConfig([]string{"-host", "127.0.0.1", "-requirepass", "from-flag"})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "127.0.0.1:7000", cfg.Address())
	assert.Equal(t, "from-flag", cfg.Password)

	_, err = LoadServerConfig([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestServerConfigValidate(t *testing.T) {
	cfg, err := LoadServerConfig(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg.LogLevel = "debug"
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}
