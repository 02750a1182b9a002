package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	c := New()
	t.Cleanup(c.Close)
	return c
}

func TestCacheBasicOperations(t *testing.T) {
	c := newCache(t)

	c.Set("key1", "value1", 0)
	v, ok, err := c.Get("key1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	assert.Equal(t, 2, c.Exists("key1", "key1", "missing"))
	assert.Equal(t, 1, c.Del("key1", "missing"))
	assert.Zero(t, c.Exists("key1"))

	_, ok, err = c.Get("key1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheExpiration(t *testing.T) {
	c := newCache(t)

	c.Set("temp", "v", 50*time.Millisecond)
	assert.Greater(t, c.TTL("temp"), time.Duration(0))
	time.Sleep(80 * time.Millisecond)

	_, ok, _ := c.Get("temp")
	assert.False(t, ok)
	assert.Equal(t, -2*time.Second, c.TTL("temp"))
	assert.Zero(t, c.DBSize())

	c.Set("perm", "v", 0)
	assert.Equal(t, -1*time.Second, c.TTL("perm"))
	assert.True(t, c.Expire("perm", time.Hour))
	assert.True(t, c.Persist("perm"))
	assert.False(t, c.Persist("perm"))
	assert.False(t, c.Expire("missing", time.Hour))
}

func TestCacheIncrement(t *testing.T) {
	c := newCache(t)

	n, err := c.IncrBy("counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrBy("counter", -5)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), n)

	c.Set("word", "abc", 0)
	_, err = c.IncrBy("word", 1)
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestCacheWrongType(t *testing.T) {
	c := newCache(t)

	_, err := c.SAdd("s", "a")
	require.NoError(t, err)

	_, _, err = c.Get("s")
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = c.HSet("s", "f", "v")
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = c.LPush("s", "x")
	assert.ErrorIs(t, err, ErrWrongType)

	typ, ok := c.Type("s")
	assert.True(t, ok)
	assert.Equal(t, "set", typ.String())

	c.Set("s", "now a string", 0)
	_, _, err = c.Get("s")
	assert.NoError(t, err)
}

func TestCacheHashOperations(t *testing.T) {
	c := newCache(t)

	added, err := c.HSet("user", "name", "ada", "lang", "go")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = c.HSet("user", "name", "grace")
	require.NoError(t, err)
	assert.Zero(t, added)

	v, ok, err := c.HGet("user", "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "grace", v)

	all, err := c.HGetAll("user")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "grace", "lang": "go"}, all)

	n, err := c.HDel("user", "name", "lang", "nope")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.Exists("user"))

	_, err = c.HSet("user", "odd")
	assert.Error(t, err)
}

func TestCacheListOperations(t *testing.T) {
	c := newCache(t)

	n, err := c.LPush("l", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = c.RPush("l", "c")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, ok, err := c.LPop("l")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	v, _, _ = c.RPop("l")
	assert.Equal(t, "c", v)
	v, _, _ = c.LPop("l")
	assert.Equal(t, "a", v)

	_, ok, err = c.LPop("l")
	require.NoError(t, err)
	assert.False(t, ok)
	n, _ = c.LLen("l")
	assert.Zero(t, n)
}

func TestCacheSetOperations(t *testing.T) {
	c := newCache(t)

	n, err := c.SAdd("tags", "go", "cache", "go")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members, err := c.SMembers("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "go"}, members)

	ok, err := c.SIsMember("tags", "go")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = c.SRem("tags", "go", "cache")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	members, _ = c.SMembers("tags")
	assert.Empty(t, members)
}

func TestCacheKeysAndFlush(t *testing.T) {
	c := newCache(t)

	c.Set("users:1", "a", 0)
	c.Set("users:2", "b", 0)
	c.Set("orders:1", "c", 0)
	c.Set("plain", "d", 0)

	assert.Equal(t, []string{"orders:1", "plain", "users:1", "users:2"}, c.Keys("*"))
	assert.Equal(t, []string{"users:1", "users:2"}, c.Keys("users:*"))
	assert.Equal(t, []string{"orders:1", "users:1", "users:2"}, c.Keys("*:*"))
	assert.Equal(t, 4, c.DBSize())

	stats := c.Stats()
	assert.Equal(t, 4, stats["string_keys"])

	c.FlushAll()
	assert.Zero(t, c.DBSize())
	assert.Empty(t, c.Keys("*"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "a/b", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h*llo", "heeeello", true},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-b]llo", "hbllo", true},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"*:*", "users:1", true},
		{"*:*", "users", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.pattern, tt.s), "%s ~ %s", tt.pattern, tt.s)
	}
}
