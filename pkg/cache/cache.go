// Package cache provides the in-memory keyspace behind the development server.
//
// The cache supports strings, hashes, lists and sets with per-key expiry and
// answers the way a Redis server would: operations against a key holding the
// wrong kind of value fail with ErrWrongType, and missing keys behave as empty
// values.
//
// Example usage:
//
//	c := cache.New()
//	defer c.Close()
//
//	c.Set("user:123", "john_doe", time.Hour)
//	value, ok := c.Get("user:123")
//
//	c.HSet("user:123:profile", "name", "John Doe")
//	profile, _ := c.HGetAll("user:123:profile")
//
//	c.SAdd("tags", "golang", "cache")
//	n := c.DBSize()
//
// All operations are safe for concurrent use. Expired keys are dropped lazily
// on access and by a background sweep.
package cache

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

var (
	// ErrWrongType is returned for an operation against a key holding another kind of value.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	// ErrNotInteger is returned when incrementing a value that is not an integer.
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")
)

// ValueType is the kind of value a key holds.
type ValueType uint8

const (
	TypeString ValueType = iota
	TypeHash
	TypeList
	TypeSet
)

// String returns the name TYPE would report.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	}
	return "none"
}

type entry struct {
	typ       ValueType
	str       string
	hash      map[string]string
	list      []string
	set       map[string]struct{}
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// SweepInterval is how often the background sweep removes expired keys.
const SweepInterval = time.Minute

// Cache is a thread-safe keyspace.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*entry
	stop chan struct{}
	once sync.Once
}

// New creates a Cache and starts its expiry sweep. Call Close to stop it.
func New() *Cache {
	c := &Cache{
		data: make(map[string]*entry),
		stop: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, e := range c.data {
				if e.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// lookup returns the live entry for key. Callers hold at least the read lock.
func (c *Cache) lookup(key string) *entry {
	e, ok := c.data[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	return e
}

// typed returns the live entry for key if it has type t, nil if the key is
// missing and ErrWrongType otherwise.
func (c *Cache) typed(key string, t ValueType) (*entry, error) {
	e := c.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.typ != t {
		return nil, ErrWrongType
	}
	return e, nil
}

// create returns the entry for key, creating an empty one of type t if it is missing.
func (c *Cache) create(key string, t ValueType) (*entry, error) {
	e, err := c.typed(key, t)
	if err != nil || e != nil {
		return e, err
	}
	e = &entry{typ: t}
	switch t {
	case TypeHash:
		e.hash = make(map[string]string)
	case TypeSet:
		e.set = make(map[string]struct{})
	}
	c.data[key] = e
	return e, nil
}

// Get returns the string stored at key.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeString)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.str, true, nil
}

// Set stores a string at key, replacing any value of any type. A positive ttl
// makes the key expire.
func (c *Cache) Set(key, val string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{typ: TypeString, str: val}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = e
}

// Del removes keys and returns how many existed.
func (c *Cache) Del(keys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, key := range keys {
		if c.lookup(key) != nil {
			n++
		}
		delete(c.data, key)
	}
	return n
}

// Exists returns how many of keys exist. Repeated keys count repeatedly.
func (c *Cache) Exists(keys ...string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, key := range keys {
		if c.lookup(key) != nil {
			n++
		}
	}
	return n
}

// Type returns the kind of value at key.
func (c *Cache) Type(key string) (ValueType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.lookup(key)
	if e == nil {
		return 0, false
	}
	return e.typ, true
}

// IncrBy adds delta to the integer stored at key, treating a missing key as 0.
func (c *Cache) IncrBy(key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.create(key, TypeString)
	if err != nil {
		return 0, err
	}
	var current int64
	if e.str != "" {
		current, err = strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	current += delta
	e.str = strconv.FormatInt(current, 10)
	return current, nil
}

// Expire sets a timeout on key. It reports whether the key exists.
func (c *Cache) Expire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	if e == nil {
		return false
	}
	if ttl <= 0 {
		delete(c.data, key)
		return true
	}
	e.expiresAt = time.Now().Add(ttl)
	return true
}

// Persist removes the timeout on key. It reports whether a timeout was removed.
func (c *Cache) Persist(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	if e == nil || e.expiresAt.IsZero() {
		return false
	}
	e.expiresAt = time.Time{}
	return true
}

// TTL returns the remaining time to live of key, -1s for a key without
// expiry and -2s for a missing key.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e := c.lookup(key)
	switch {
	case e == nil:
		return -2 * time.Second
	case e.expiresAt.IsZero():
		return -1 * time.Second
	}
	return time.Until(e.expiresAt)
}

// HGet returns a hash field.
func (c *Cache) HGet(key, field string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeHash)
	if err != nil || e == nil {
		return "", false, err
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

// HSet sets field/value pairs and returns how many fields were new.
func (c *Cache) HSet(key string, pairs ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(pairs)%2 != 0 {
		return 0, errors.New("ERR wrong number of arguments for 'hset' command")
	}
	e, err := c.create(key, TypeHash)
	if err != nil {
		return 0, err
	}
	added := 0
	for i := 0; i < len(pairs); i += 2 {
		if _, ok := e.hash[pairs[i]]; !ok {
			added++
		}
		e.hash[pairs[i]] = pairs[i+1]
	}
	return added, nil
}

// HDel removes fields and returns how many existed.
func (c *Cache) HDel(key string, fields ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.typed(key, TypeHash)
	if err != nil || e == nil {
		return 0, err
	}
	n := 0
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			n++
		}
	}
	if len(e.hash) == 0 {
		delete(c.data, key)
	}
	return n, nil
}

// HGetAll returns a copy of the hash at key.
func (c *Cache) HGetAll(key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeHash)
	out := make(map[string]string)
	if err != nil || e == nil {
		return out, err
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// LPush prepends values one by one, so the last value ends up first, and
// returns the new length.
func (c *Cache) LPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.create(key, TypeList)
	if err != nil {
		return 0, err
	}
	head := make([]string, 0, len(values)+len(e.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	e.list = append(head, e.list...)
	return len(e.list), nil
}

// RPush appends values and returns the new length.
func (c *Cache) RPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.create(key, TypeList)
	if err != nil {
		return 0, err
	}
	e.list = append(e.list, values...)
	return len(e.list), nil
}

// LPop removes and returns the first element.
func (c *Cache) LPop(key string) (string, bool, error) {
	return c.pop(key, true)
}

// RPop removes and returns the last element.
func (c *Cache) RPop(key string) (string, bool, error) {
	return c.pop(key, false)
}

func (c *Cache) pop(key string, head bool) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.typed(key, TypeList)
	if err != nil || e == nil || len(e.list) == 0 {
		return "", false, err
	}
	var v string
	if head {
		v, e.list = e.list[0], e.list[1:]
	} else {
		v, e.list = e.list[len(e.list)-1], e.list[:len(e.list)-1]
	}
	if len(e.list) == 0 {
		delete(c.data, key)
	}
	return v, true, nil
}

// LLen returns the length of the list at key.
func (c *Cache) LLen(key string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeList)
	if err != nil || e == nil {
		return 0, err
	}
	return len(e.list), nil
}

// SAdd adds members and returns how many were new.
func (c *Cache) SAdd(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.create(key, TypeSet)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range members {
		if _, ok := e.set[m]; !ok {
			e.set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SRem removes members and returns how many existed.
func (c *Cache) SRem(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.typed(key, TypeSet)
	if err != nil || e == nil {
		return 0, err
	}
	n := 0
	for _, m := range members {
		if _, ok := e.set[m]; ok {
			delete(e.set, m)
			n++
		}
	}
	if len(e.set) == 0 {
		delete(c.data, key)
	}
	return n, nil
}

// SMembers returns the members of the set at key, sorted.
func (c *Cache) SMembers(key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeSet)
	if err != nil || e == nil {
		return []string{}, err
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

// SIsMember reports whether member is in the set at key.
func (c *Cache) SIsMember(key, member string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.typed(key, TypeSet)
	if err != nil || e == nil {
		return false, err
	}
	_, ok := e.set[member]
	return ok, nil
}

// Keys returns the live keys matching a glob pattern, sorted.
func (c *Cache) Keys(pattern string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	out := []string{}
	for key, e := range c.data {
		if !e.expired(now) && Match(pattern, key) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out
}

// DBSize returns the number of live keys.
func (c *Cache) DBSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range c.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// FlushAll removes every key.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*entry)
}

// Stats returns per-type key counts.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := map[ValueType]int{}
	now := time.Now()
	for _, e := range c.data {
		if !e.expired(now) {
			counts[e.typ]++
		}
	}
	return map[string]interface{}{
		"total_keys":  counts[TypeString] + counts[TypeHash] + counts[TypeList] + counts[TypeSet],
		"string_keys": counts[TypeString],
		"hash_keys":   counts[TypeHash],
		"list_keys":   counts[TypeList],
		"set_keys":    counts[TypeSet],
	}
}
