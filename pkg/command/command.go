// Package command describes how each command is routed across the cluster.
//
// Every command name maps to exactly one Policy:
//
//   - SingleKey: the argument at index Arg is the shard key.
//   - RingWide: the command is sent to every live server and the replies are
//     merged.
//   - Custom: a RouteFunc decides, typically splitting multi-key commands
//     per owning server and reassembling the replies.
//   - Unsupported: the command is rejected.
//
// Names missing from a Table are Unsupported.
package command

import (
	"strings"

	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/result"
)

// Dispatcher is the view of the router handed to custom routes. It must only
// be used for the duration of the RouteFunc call.
type Dispatcher interface {
	// Locate returns the identity of the server owning key, honoring hash tags.
	Locate(key string) (string, error)
	// Servers returns the identities of all live servers in ascending order.
	Servers() []string
	// Dispatch writes cmd to the server with identity id and hands it h.
	Dispatch(id, cmd string, args []any, h *result.Handle)
}

// RouteFunc routes one command. It owns h and must settle it, directly or by
// dispatching it.
type RouteFunc func(d Dispatcher, cmd string, args []any, h *result.Handle)

// MergeFunc combines per-server replies, in server order, into one reply.
type MergeFunc func(replies []protocol.Value) (protocol.Value, error)

// Policy is one of SingleKey, RingWide, Custom or Unsupported.
type Policy interface {
	isPolicy()
}

// SingleKey routes by the shard key found at argument index Arg.
type SingleKey struct {
	Arg int
}

// RingWide sends the command to every live server.
type RingWide struct {
	Merge MergeFunc
}

// Custom routes with its own function.
type Custom struct {
	Route RouteFunc
}

// Unsupported rejects the command.
type Unsupported struct{}

func (SingleKey) isPolicy()   {}
func (RingWide) isPolicy()    {}
func (Custom) isPolicy()      {}
func (Unsupported) isPolicy() {}

// Table maps upper-case command names to policies.
type Table map[string]Policy

// Lookup returns the policy for cmd, matching case-insensitively.
func (t Table) Lookup(cmd string) Policy {
	if p, ok := t[strings.ToUpper(cmd)]; ok && p != nil {
		return p
	}
	return Unsupported{}
}

// With returns a copy of t with the given entries added or overridden.
func (t Table) With(entries Table) Table {
	out := make(Table, len(t)+len(entries))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range entries {
		out[strings.ToUpper(k)] = v
	}
	return out
}

var singleKeyCommands = []string{
	// strings
	"GET", "SET", "SETNX", "SETEX", "PSETEX", "GETSET", "GETDEL", "APPEND", "STRLEN",
	"INCR", "DECR", "INCRBY", "DECRBY", "INCRBYFLOAT", "GETRANGE", "SETRANGE",
	// keys
	"EXPIRE", "PEXPIRE", "EXPIREAT", "PEXPIREAT", "TTL", "PTTL", "PERSIST", "TYPE",
	// hashes
	"HGET", "HSET", "HSETNX", "HDEL", "HGETALL", "HEXISTS", "HKEYS", "HVALS", "HLEN",
	"HINCRBY", "HMGET", "HMSET",
	// lists
	"LPUSH", "RPUSH", "LPOP", "RPOP", "LLEN", "LRANGE", "LINDEX", "LSET", "LREM", "LTRIM",
	// sets
	"SADD", "SREM", "SMEMBERS", "SISMEMBER", "SCARD", "SPOP", "SRANDMEMBER",
	// sorted sets
	"ZADD", "ZREM", "ZRANGE", "ZREVRANGE", "ZRANGEBYSCORE", "ZSCORE", "ZCARD", "ZINCRBY", "ZRANK",
}

// DefaultTable returns the built-in command table.
func DefaultTable() Table {
	t := make(Table, len(singleKeyCommands)+16)
	for _, name := range singleKeyCommands {
		t[name] = SingleKey{Arg: 0}
	}

	t["PING"] = RingWide{Merge: MergeFirst}
	t["FLUSHALL"] = RingWide{Merge: MergeFirst}
	t["FLUSHDB"] = RingWide{Merge: MergeFirst}
	t["KEYS"] = RingWide{Merge: MergeConcat}
	t["DBSIZE"] = RingWide{Merge: MergeSum}

	t["MGET"] = Custom{Route: RouteMGet}
	t["MSET"] = Custom{Route: RouteMSet}
	t["DEL"] = Custom{Route: RouteKeysSum}
	t["EXISTS"] = Custom{Route: RouteKeysSum}
	t["UNLINK"] = Custom{Route: RouteKeysSum}

	// Connection state, transactions and pub/sub cannot be sharded.
	for _, name := range []string{"AUTH", "SELECT", "MULTI", "EXEC", "DISCARD", "WATCH", "UNWATCH",
		"SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "PUBLISH", "MONITOR", "QUIT"} {
		t[name] = Unsupported{}
	}
	return t
}
