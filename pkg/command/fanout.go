package command

import (
	"errors"
	"fmt"

	"github.com/cachemir/shardis/pkg/protocol"
	"github.com/cachemir/shardis/pkg/result"
)

// ErrWrongArgs is returned for commands called with an unusable argument list.
var ErrWrongArgs = errors.New("wrong number of arguments")

// Part is one server's share of a fanned-out command.
type Part struct {
	Server  string
	Command string
	Args    []any
}

// FanOut dispatches every part and settles h once all parts are settled: with
// the first error in part order, or with merge applied to the replies.
func FanOut(d Dispatcher, parts []Part, merge MergeFunc, h *result.Handle) {
	if len(parts) == 0 {
		h.Resolve(protocol.Array())
		return
	}
	children := make([]*result.Handle, len(parts))
	for i, p := range parts {
		children[i] = result.New()
		d.Dispatch(p.Server, p.Command, p.Args, children[i])
	}
	go func() {
		replies := make([]protocol.Value, len(children))
		for i, c := range children {
			v, err := c.Result()
			if err != nil {
				h.Reject(err)
				return
			}
			replies[i] = v
		}
		v, err := merge(replies)
		if err != nil {
			h.Reject(err)
			return
		}
		h.Resolve(v)
	}()
}

// MergeFirst keeps the first reply.
func MergeFirst(replies []protocol.Value) (protocol.Value, error) {
	if len(replies) == 0 {
		return protocol.Nil(), nil
	}
	return replies[0], nil
}

// MergeSum adds integer replies.
func MergeSum(replies []protocol.Value) (protocol.Value, error) {
	var sum int64
	for _, r := range replies {
		if r.Type != protocol.RespInt {
			return protocol.Value{}, fmt.Errorf("expected integer reply, got %s", r.Type)
		}
		sum += r.Int
	}
	return protocol.Int(sum), nil
}

// MergeConcat concatenates array replies.
func MergeConcat(replies []protocol.Value) (protocol.Value, error) {
	var out []protocol.Value
	for _, r := range replies {
		switch r.Type {
		case protocol.RespNil:
		case protocol.RespArray:
			out = append(out, r.Array...)
		default:
			return protocol.Value{}, fmt.Errorf("expected array reply, got %s", r.Type)
		}
	}
	return protocol.Array(out...), nil
}

// groupKeys splits keys by owning server. It returns the servers in first-seen
// order and, per server, the indexes of its keys.
func groupKeys(d Dispatcher, keys []any) ([]string, map[string][]int, error) {
	var order []string
	groups := make(map[string][]int)
	for i, k := range keys {
		id, err := d.Locate(protocol.Stringify(k))
		if err != nil {
			return nil, nil, err
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}
	return order, groups, nil
}

// RouteMGet splits MGET per server and returns the values in key order.
func RouteMGet(d Dispatcher, cmd string, args []any, h *result.Handle) {
	if len(args) == 0 {
		h.Reject(fmt.Errorf("%s: %w", cmd, ErrWrongArgs))
		return
	}
	order, groups, err := groupKeys(d, args)
	if err != nil {
		h.Reject(err)
		return
	}
	parts := make([]Part, len(order))
	for i, id := range order {
		keys := make([]any, len(groups[id]))
		for j, idx := range groups[id] {
			keys[j] = args[idx]
		}
		parts[i] = Part{Server: id, Command: cmd, Args: keys}
	}
	FanOut(d, parts, func(replies []protocol.Value) (protocol.Value, error) {
		out := make([]protocol.Value, len(args))
		for i, id := range order {
			r := replies[i]
			if r.Type != protocol.RespArray || len(r.Array) != len(groups[id]) {
				return protocol.Value{}, fmt.Errorf("%s: unexpected reply from %s: %s", cmd, id, r)
			}
			for j, idx := range groups[id] {
				out[idx] = r.Array[j]
			}
		}
		return protocol.Array(out...), nil
	}, h)
}

// RouteMSet splits MSET key/value pairs per server.
func RouteMSet(d Dispatcher, cmd string, args []any, h *result.Handle) {
	if len(args) == 0 || len(args)%2 != 0 {
		h.Reject(fmt.Errorf("%s: %w", cmd, ErrWrongArgs))
		return
	}
	keys := make([]any, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		keys = append(keys, args[i])
	}
	order, groups, err := groupKeys(d, keys)
	if err != nil {
		h.Reject(err)
		return
	}
	parts := make([]Part, len(order))
	for i, id := range order {
		pairs := make([]any, 0, 2*len(groups[id]))
		for _, idx := range groups[id] {
			pairs = append(pairs, args[2*idx], args[2*idx+1])
		}
		parts[i] = Part{Server: id, Command: cmd, Args: pairs}
	}
	FanOut(d, parts, MergeFirst, h)
}

// RouteKeysSum splits a multi-key command with an integer reply (DEL,
// EXISTS, UNLINK) per server and sums the counts.
func RouteKeysSum(d Dispatcher, cmd string, args []any, h *result.Handle) {
	if len(args) == 0 {
		h.Reject(fmt.Errorf("%s: %w", cmd, ErrWrongArgs))
		return
	}
	order, groups, err := groupKeys(d, args)
	if err != nil {
		h.Reject(err)
		return
	}
	parts := make([]Part, len(order))
	for i, id := range order {
		keys := make([]any, len(groups[id]))
		for j, idx := range groups[id] {
			keys[j] = args[idx]
		}
		parts[i] = Part{Server: id, Command: cmd, Args: keys}
	}
	FanOut(d, parts, MergeSum, h)
}
