package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cachemir/shardis/pkg/protocol"
)

func intReply(v protocol.Value, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if v.Type != protocol.RespInt {
		return 0, fmt.Errorf("unexpected %s reply, want integer", v.Type)
	}
	return v.Int, nil
}

func boolReply(v protocol.Value, err error) (bool, error) {
	n, err := intReply(v, err)
	return n == 1, err
}

func stringReply(v protocol.Value, err error) (string, error) {
	if err != nil {
		return "", err
	}
	switch v.Type {
	case protocol.RespNil:
		return "", ErrNil
	case protocol.RespString, protocol.RespStatus:
		return v.Str, nil
	}
	return "", fmt.Errorf("unexpected %s reply, want string", v.Type)
}

func okReply(v protocol.Value, err error) error {
	if err != nil {
		return err
	}
	if v.Type != protocol.RespStatus || v.Str != "OK" {
		return fmt.Errorf("unexpected reply %s, want OK", v)
	}
	return nil
}

func stringsReply(v protocol.Value, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return v.Strings()
}

// Ping checks that every live server answers.
func (c *Client) Ping(ctx context.Context) error {
	v, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if v.Str != "PONG" {
		return fmt.Errorf("unexpected ping reply %s", v)
	}
	return nil
}

// Get returns the string at key, or ErrNil if it does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return stringReply(c.Do(ctx, "GET", key))
}

// Set stores value at key. A positive ttl makes the key expire, rounded up
// to whole milliseconds.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		return okReply(c.Do(ctx, "SET", key, value, "PX", millis(ttl)))
	}
	return okReply(c.Do(ctx, "SET", key, value))
}

// MGet returns the values of the keys that exist. Keys may live on
// different servers.
func (c *Client) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	v, err := c.Do(ctx, "MGET", toArgs(keys)...)
	if err != nil {
		return nil, err
	}
	if v.Type != protocol.RespArray || len(v.Array) != len(keys) {
		return nil, fmt.Errorf("unexpected MGET reply %s", v)
	}
	out := make(map[string]string, len(keys))
	for i, e := range v.Array {
		if !e.IsNil() {
			out[keys[i]] = e.Str
		}
	}
	return out, nil
}

// MSet stores every key/value pair of kv.
func (c *Client) MSet(ctx context.Context, kv map[string]string) error {
	args := make([]any, 0, 2*len(kv))
	for k, v := range kv {
		args = append(args, k, v)
	}
	return okReply(c.Do(ctx, "MSET", args...))
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return intReply(c.Do(ctx, "DEL", toArgs(keys)...))
}

// Exists returns how many of keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return intReply(c.Do(ctx, "EXISTS", toArgs(keys)...))
}

// Incr increments the integer at key by one.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return intReply(c.Do(ctx, "INCR", key))
}

// Decr decrements the integer at key by one.
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return intReply(c.Do(ctx, "DECR", key))
}

// IncrBy adds delta to the integer at key.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return intReply(c.Do(ctx, "INCRBY", key, delta))
}

// Expire sets a timeout on key and reports whether the key exists. A ttl <= 0
// deletes the key; a positive one is rounded up to whole milliseconds.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return boolReply(c.Do(ctx, "PEXPIRE", key, millis(ttl)))
}

// millis converts ttl to milliseconds. A positive ttl never rounds down to
// zero.
func millis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ttl > 0 && ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// TTL returns the remaining time to live of key, -1s for a key without
// expiry and -2s for a missing key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	n, err := intReply(c.Do(ctx, "PTTL", key))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return time.Duration(n) * time.Second, nil
	}
	return time.Duration(n) * time.Millisecond, nil
}

// HGet returns a hash field, or ErrNil.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	return stringReply(c.Do(ctx, "HGET", key, field))
}

// HSet sets a hash field.
func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	_, err := intReply(c.Do(ctx, "HSET", key, field, value))
	return err
}

// HGetAll returns every field of the hash at key.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	flat, err := stringsReply(c.Do(ctx, "HGETALL", key))
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("HGETALL reply has odd length %d", len(flat))
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out, nil
}

// LPush prepends values and returns the new list length.
func (c *Client) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return intReply(c.Do(ctx, "LPUSH", append([]any{key}, toArgs(values)...)...))
}

// RPush appends values and returns the new list length.
func (c *Client) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return intReply(c.Do(ctx, "RPUSH", append([]any{key}, toArgs(values)...)...))
}

// LPop removes and returns the first list element, or ErrNil.
func (c *Client) LPop(ctx context.Context, key string) (string, error) {
	return stringReply(c.Do(ctx, "LPOP", key))
}

// SAdd adds members and returns how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return intReply(c.Do(ctx, "SADD", append([]any{key}, toArgs(members)...)...))
}

// SMembers returns the members of the set at key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return stringsReply(c.Do(ctx, "SMEMBERS", key))
}

// Keys returns the keys matching pattern on every server.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return stringsReply(c.Do(ctx, "KEYS", pattern))
}

// DBSize returns the number of keys across all servers.
func (c *Client) DBSize(ctx context.Context) (int64, error) {
	return intReply(c.Do(ctx, "DBSIZE"))
}

// FlushAll removes every key on every server.
func (c *Client) FlushAll(ctx context.Context) error {
	return okReply(c.Do(ctx, "FLUSHALL"))
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
