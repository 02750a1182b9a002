// Package result holds the eventual outcome of one submitted command.
//
// A Handle is created when a command is submitted and is owned by exactly one
// component at a time: the offline queue, the router, or the transport whose
// pending queue it sits in. Whoever owns it settles it; the first Resolve or
// Reject wins and later calls are ignored.
package result

import (
	"context"
	"sync"

	"github.com/cachemir/shardis/pkg/protocol"
)

// Handle is a resolve/reject pair for one command.
type Handle struct {
	once  sync.Once
	done  chan struct{}
	reply protocol.Value
	err   error
}

// New returns an unsettled handle.
func New() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve settles the handle with a reply. It reports whether this call
// settled it.
func (h *Handle) Resolve(v protocol.Value) bool {
	settled := false
	h.once.Do(func() {
		h.reply = v
		settled = true
		close(h.done)
	})
	return settled
}

// Reject settles the handle with an error. It reports whether this call
// settled it.
func (h *Handle) Reject(err error) bool {
	settled := false
	h.once.Do(func() {
		h.err = err
		settled = true
		close(h.done)
	})
	return settled
}

// Settle resolves error replies as a rejection with *protocol.ServerError and
// everything else as a resolution.
func (h *Handle) Settle(v protocol.Value) bool {
	if err := v.Err(); err != nil {
		return h.Reject(err)
	}
	return h.Resolve(v)
}

// Done is closed once the handle is settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Settled reports whether the handle has been settled.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the handle is settled or ctx is done. Giving up on the
// wait does not cancel the command.
func (h *Handle) Wait(ctx context.Context) (protocol.Value, error) {
	select {
	case <-h.done:
		return h.reply, h.err
	case <-ctx.Done():
		return protocol.Value{}, ctx.Err()
	}
}

// Result blocks until the handle is settled and returns its outcome.
func (h *Handle) Result() (protocol.Value, error) {
	<-h.done
	return h.reply, h.err
}

// Rejected returns a handle already rejected with err.
func Rejected(err error) *Handle {
	h := New()
	h.Reject(err)
	return h
}
