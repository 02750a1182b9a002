// Package hash provides the weighted consistent-hash ring used to shard keys
// across backend servers.
//
// Each member identity (typically "host:port") is placed on the ring at
// virtualNodes*weight points. A key is owned by the member holding the first
// point at or after the key's hash, wrapping around at the end of the ring.
// Adding or removing a member only moves the keys adjacent to its points.
//
// All processes sharding the same key space must agree on the hash function;
// the ring always uses 64-bit xxhash for both points and keys.
//
// Example usage:
//
//	ring := hash.New(hash.DefaultVirtualNodes, 0)
//	ring.Add("server1:6379", 1)
//	ring.Add("server2:6379", 2) // twice as many points
//
//	owner := ring.Get(hash.ShardKey("user:{42}:profile"))
//
// Replace hands every point of one member to another, so a spare host can
// take over a failed host's share of the key space without moving any other
// key.
package hash

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/slices"
)

// DefaultVirtualNodes is the default number of ring points per unit of weight.
const DefaultVirtualNodes = 160

// DefaultLookupCacheSize bounds the key->owner lookup cache.
const DefaultLookupCacheSize = 1024

var (
	// ErrUnknownMember is returned when replacing an identity that is not on the ring.
	ErrUnknownMember = errors.New("hash: unknown ring member")
	// ErrMemberExists is returned when a replacement identity is already on the ring.
	ErrMemberExists = errors.New("hash: ring member already exists")
)

// Ring is a weighted consistent-hash ring with in-place member replacement.
// It is safe for concurrent use.
type Ring struct {
	mu           sync.RWMutex
	owners       map[uint64]string   // point -> identity
	sorted       []uint64            // all points, ascending
	members      map[string][]uint64 // identity -> points it owns
	virtualNodes int
	lookups      *lru.Cache[string, string] // key -> owner, purged on every membership change
}

// New creates an empty ring. virtualNodes <= 0 selects DefaultVirtualNodes and
// cacheSize <= 0 selects DefaultLookupCacheSize.
func New(virtualNodes, cacheSize int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	if cacheSize <= 0 {
		cacheSize = DefaultLookupCacheSize
	}
	// lru.New only fails for a non-positive size.
	lookups, _ := lru.New[string, string](cacheSize)
	return &Ring{
		owners:       make(map[uint64]string),
		members:      make(map[string][]uint64),
		virtualNodes: virtualNodes,
		lookups:      lookups,
	}
}

// Add places id on the ring with the given weight (<= 0 counts as 1).
// Adding an existing member is a no-op.
func (r *Ring) Add(id string, weight int) {
	if weight <= 0 {
		weight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; ok {
		return
	}

	n := r.virtualNodes * weight
	points := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		p := Sum(fmt.Sprintf("%s-%d", id, i))
		if _, taken := r.owners[p]; taken {
			continue
		}
		r.owners[p] = id
		points = append(points, p)
	}
	r.members[id] = points
	r.sorted = append(r.sorted, points...)
	slices.Sort(r.sorted)
	r.lookups.Purge()
}

// Remove takes id and all of its points off the ring. Unknown ids are ignored.
func (r *Ring) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	points, ok := r.members[id]
	if !ok {
		return
	}
	delete(r.members, id)
	for _, p := range points {
		delete(r.owners, p)
	}
	r.sorted = slices.DeleteFunc(r.sorted, func(p uint64) bool {
		_, ok := r.owners[p]
		return !ok
	})
	r.lookups.Purge()
}

// Replace transfers every point owned by oldID to newID. The ring keeps the
// same number of members and the same point layout.
func (r *Ring) Replace(oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	points, ok := r.members[oldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, oldID)
	}
	if _, exists := r.members[newID]; exists {
		return fmt.Errorf("%w: %s", ErrMemberExists, newID)
	}
	for _, p := range points {
		r.owners[p] = newID
	}
	delete(r.members, oldID)
	r.members[newID] = points
	r.lookups.Purge()
	return nil
}

// Get returns the member owning key, or "" when the ring is empty. The key is
// hashed as is; callers apply ShardKey first when hash tags should be honored.
func (r *Ring) Get(key string) string {
	if id, ok := r.lookups.Get(key); ok {
		return id
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return ""
	}
	h := Sum(key)
	idx, _ := slices.BinarySearch(r.sorted, h)
	if idx == len(r.sorted) {
		idx = 0
	}
	id := r.owners[r.sorted[idx]]
	r.lookups.Add(key, id)
	return id
}

// Members returns the identities on the ring in ascending order.
func (r *Ring) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Points returns a copy of the points owned by id, ascending.
func (r *Ring) Points(id string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.members[id])
	slices.Sort(out)
	return out
}

// Len returns the number of members.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Has reports whether id is a member.
func (r *Ring) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Stats returns counters about the ring, useful when debugging distribution.
func (r *Ring) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"members":       len(r.members),
		"points":        len(r.sorted),
		"virtual_nodes": r.virtualNodes,
		"cached_keys":   r.lookups.Len(),
	}
}

// Sum is the hash function shared by ring points and keys.
func Sum(s string) uint64 {
	return xxhash.Sum64String(s)
}
