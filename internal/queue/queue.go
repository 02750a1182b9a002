// Package queue buffers commands submitted before any backend server is
// attached. The queue is drained exactly once, when the router attaches its
// first servers, and flushed with a terminal error if the client ends first.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cachemir/shardis/pkg/result"
)

// DefaultSize is the default queue capacity.
const DefaultSize = 1024

var (
	// ErrQueueFull is returned when a push would exceed the capacity.
	ErrQueueFull = errors.New("offline queue full")
	// ErrDrained is returned when pushing to a queue that was already drained.
	ErrDrained = errors.New("offline queue already drained")
)

// Entry is one queued command.
type Entry struct {
	Command string
	Args    []any
	Handle  *result.Handle
}

// Offline is a bounded FIFO. It is safe for concurrent use.
type Offline struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	drained bool
}

// New returns a queue holding at most size entries (size <= 0 selects DefaultSize).
func New(size int) *Offline {
	if size <= 0 {
		size = DefaultSize
	}
	return &Offline{size: size}
}

// Push appends a command. The handle stays untouched on error; the caller
// still owns it.
func (q *Offline) Push(cmd string, args []any, h *result.Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.drained {
		return ErrDrained
	}
	if len(q.entries) >= q.size {
		return fmt.Errorf("%w (%d entries)", ErrQueueFull, q.size)
	}
	q.entries = append(q.entries, Entry{Command: cmd, Args: args, Handle: h})
	return nil
}

// Drain hands every queued entry, oldest first, to the caller and closes the
// queue for good. Later Drain calls return nothing.
func (q *Offline) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	q.drained = true
	return out
}

// Flush rejects every queued entry with reason and returns how many there were.
func (q *Offline) Flush(reason error) int {
	q.mu.Lock()
	out := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range out {
		e.Handle.Reject(reason)
	}
	return len(out)
}

// Len returns the number of queued entries.
func (q *Offline) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
