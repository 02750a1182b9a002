package server

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/cachemir/shardis/pkg/cache"
	"github.com/cachemir/shardis/pkg/protocol"
)

// command is one entry of the command table. maxArgs < 0 means unbounded.
type command struct {
	minArgs int
	maxArgs int
	run     func(sess *session, args []string) protocol.Value
}

var (
	replyOK   = protocol.Status("OK")
	errSyntax = protocol.Error("ERR syntax error")
)

func errReply(err error) protocol.Value {
	return protocol.Error(err.Error())
}

func boolInt(b bool) protocol.Value {
	if b {
		return protocol.Int(1)
	}
	return protocol.Int(0)
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func keyed(fn func(args []string) protocol.Value) func(*session, []string) protocol.Value {
	return func(_ *session, args []string) protocol.Value { return fn(args) }
}

func (s *Server) commandTable() map[string]command {
	c := s.cache
	return map[string]command{
		"PING": {0, 1, keyed(func(args []string) protocol.Value {
			if len(args) == 1 {
				return protocol.Bulk(args[0])
			}
			return protocol.Status("PONG")
		})},
		"ECHO": {1, 1, keyed(func(args []string) protocol.Value { return protocol.Bulk(args[0]) })},
		"AUTH": {1, 1, s.handleAuth},
		"QUIT": {0, 0, func(sess *session, _ []string) protocol.Value {
			sess.quit = true
			return replyOK
		}},

		"GET":    {1, 1, keyed(s.handleGet)},
		"SET":    {2, 5, keyed(s.handleSet)},
		"MGET":   {1, -1, keyed(s.handleMGet)},
		"MSET":   {2, -1, keyed(s.handleMSet)},
		"INCR":   {1, 1, keyed(func(a []string) protocol.Value { return s.incrBy(a[0], 1) })},
		"DECR":   {1, 1, keyed(func(a []string) protocol.Value { return s.incrBy(a[0], -1) })},
		"INCRBY": {2, 2, keyed(func(a []string) protocol.Value { return s.incrByArg(a, 1) })},
		"DECRBY": {2, 2, keyed(func(a []string) protocol.Value { return s.incrByArg(a, -1) })},

		"DEL":    {1, -1, keyed(func(a []string) protocol.Value { return protocol.Int(int64(c.Del(a...))) })},
		"UNLINK": {1, -1, keyed(func(a []string) protocol.Value { return protocol.Int(int64(c.Del(a...))) })},
		"EXISTS": {1, -1, keyed(func(a []string) protocol.Value { return protocol.Int(int64(c.Exists(a...))) })},
		"TYPE": {1, 1, keyed(func(a []string) protocol.Value {
			t, ok := c.Type(a[0])
			if !ok {
				return protocol.Status("none")
			}
			return protocol.Status(t.String())
		})},
		"EXPIRE":  {2, 2, keyed(func(a []string) protocol.Value { return s.expire(a, time.Second) })},
		"PEXPIRE": {2, 2, keyed(func(a []string) protocol.Value { return s.expire(a, time.Millisecond) })},
		"TTL":     {1, 1, keyed(func(a []string) protocol.Value { return s.ttl(a[0], time.Second) })},
		"PTTL":    {1, 1, keyed(func(a []string) protocol.Value { return s.ttl(a[0], time.Millisecond) })},
		"PERSIST": {1, 1, keyed(func(a []string) protocol.Value { return boolInt(c.Persist(a[0])) })},
		"KEYS":    {1, 1, keyed(func(a []string) protocol.Value { return protocol.BulkStrings(c.Keys(a[0])) })},

		"HGET": {2, 2, keyed(func(a []string) protocol.Value {
			v, ok, err := c.HGet(a[0], a[1])
			return optional(v, ok, err)
		})},
		"HSET": {3, -1, keyed(func(a []string) protocol.Value {
			return count(c.HSet(a[0], a[1:]...))
		})},
		"HDEL": {2, -1, keyed(func(a []string) protocol.Value { return count(c.HDel(a[0], a[1:]...)) })},
		"HEXISTS": {2, 2, keyed(func(a []string) protocol.Value {
			_, ok, err := c.HGet(a[0], a[1])
			if err != nil {
				return errReply(err)
			}
			return boolInt(ok)
		})},
		"HGETALL": {1, 1, keyed(s.handleHGetAll)},

		"LPUSH": {2, -1, keyed(func(a []string) protocol.Value { return count(c.LPush(a[0], a[1:]...)) })},
		"RPUSH": {2, -1, keyed(func(a []string) protocol.Value { return count(c.RPush(a[0], a[1:]...)) })},
		"LPOP":  {1, 1, keyed(func(a []string) protocol.Value { return optional(c.LPop(a[0])) })},
		"RPOP":  {1, 1, keyed(func(a []string) protocol.Value { return optional(c.RPop(a[0])) })},
		"LLEN":  {1, 1, keyed(func(a []string) protocol.Value { return count(c.LLen(a[0])) })},

		"SADD": {2, -1, keyed(func(a []string) protocol.Value { return count(c.SAdd(a[0], a[1:]...)) })},
		"SREM": {2, -1, keyed(func(a []string) protocol.Value { return count(c.SRem(a[0], a[1:]...)) })},
		"SMEMBERS": {1, 1, keyed(func(a []string) protocol.Value {
			members, err := c.SMembers(a[0])
			if err != nil {
				return errReply(err)
			}
			return protocol.BulkStrings(members)
		})},
		"SISMEMBER": {2, 2, keyed(func(a []string) protocol.Value {
			ok, err := c.SIsMember(a[0], a[1])
			if err != nil {
				return errReply(err)
			}
			return boolInt(ok)
		})},

		"DBSIZE":   {0, 0, keyed(func([]string) protocol.Value { return protocol.Int(int64(c.DBSize())) })},
		"FLUSHALL": {0, 1, keyed(s.handleFlush)},
		"FLUSHDB":  {0, 1, keyed(s.handleFlush)},
	}
}

func optional(v string, ok bool, err error) protocol.Value {
	switch {
	case err != nil:
		return errReply(err)
	case !ok:
		return protocol.Nil()
	}
	return protocol.Bulk(v)
}

func count(n int, err error) protocol.Value {
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(int64(n))
}

func (s *Server) handleAuth(sess *session, args []string) protocol.Value {
	if s.cfg.Password == "" {
		return protocol.Error("ERR AUTH <password> called without any password configured for the default user.")
	}
	if args[0] != s.cfg.Password {
		sess.authed = false
		return protocol.Error("WRONGPASS invalid username-password pair or user is disabled.")
	}
	sess.authed = true
	return replyOK
}

func (s *Server) handleGet(args []string) protocol.Value {
	return optional(s.cache.Get(args[0]))
}

// handleSet supports SET key value [EX seconds | PX milliseconds].
func (s *Server) handleSet(args []string) protocol.Value {
	var ttl time.Duration
	opts := args[2:]
	for len(opts) > 0 {
		unit := time.Duration(0)
		switch strings.ToUpper(opts[0]) {
		case "EX":
			unit = time.Second
		case "PX":
			unit = time.Millisecond
		default:
			return errSyntax
		}
		if len(opts) < 2 || ttl != 0 {
			return errSyntax
		}
		n, ok := parseInt(opts[1])
		if !ok || n <= 0 {
			return protocol.Error("ERR invalid expire time in 'set' command")
		}
		ttl = time.Duration(n) * unit
		opts = opts[2:]
	}
	s.cache.Set(args[0], args[1], ttl)
	return replyOK
}

func (s *Server) handleMGet(args []string) protocol.Value {
	out := make([]protocol.Value, len(args))
	for i, key := range args {
		v, ok, err := s.cache.Get(key)
		if err != nil || !ok {
			out[i] = protocol.Nil()
			continue
		}
		out[i] = protocol.Bulk(v)
	}
	return protocol.Array(out...)
}

func (s *Server) handleMSet(args []string) protocol.Value {
	if len(args)%2 != 0 {
		return protocol.Error("ERR wrong number of arguments for 'mset' command")
	}
	for i := 0; i < len(args); i += 2 {
		s.cache.Set(args[i], args[i+1], 0)
	}
	return replyOK
}

func (s *Server) incrBy(key string, delta int64) protocol.Value {
	n, err := s.cache.IncrBy(key, delta)
	if err != nil {
		return errReply(err)
	}
	return protocol.Int(n)
}

func (s *Server) incrByArg(args []string, sign int64) protocol.Value {
	delta, ok := parseInt(args[1])
	if !ok {
		return errReply(cache.ErrNotInteger)
	}
	return s.incrBy(args[0], sign*delta)
}

func (s *Server) expire(args []string, unit time.Duration) protocol.Value {
	n, ok := parseInt(args[1])
	if !ok {
		return errReply(cache.ErrNotInteger)
	}
	return boolInt(s.cache.Expire(args[0], time.Duration(n)*unit))
}

func (s *Server) ttl(key string, unit time.Duration) protocol.Value {
	d := s.cache.TTL(key)
	if d < 0 {
		return protocol.Int(int64(d / time.Second))
	}
	// Round up so a key that still exists never reports 0 remaining.
	return protocol.Int(int64((d + unit - 1) / unit))
}

func (s *Server) handleFlush([]string) protocol.Value {
	s.cache.FlushAll()
	return replyOK
}

func (s *Server) handleHGetAll(args []string) protocol.Value {
	h, err := s.cache.HGetAll(args[0])
	if err != nil {
		return errReply(err)
	}
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	flat := make([]string, 0, 2*len(fields))
	for _, f := range fields {
		flat = append(flat, f, h[f])
	}
	return protocol.BulkStrings(flat)
}
