// Package cache memoizes derived series keyed by input fingerprints, with a
// TTL per entry and at most one concurrent build per key. A request arriving
// while a build is in flight joins that build's result instead of computing
// its own.
package cache

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"github.com/homeflux/homeflux/pkg/source"
)

// Key combines input fingerprints into one cache key with FNV-1a.
func Key(parts ...uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(buf[:], p)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// KeyString fingerprints a string for use as a Key part.
func KeyString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

type entry[V any] struct {
	ready   chan struct{}
	val     V
	expires time.Time
}

// Cache is a keyed single-flight memoizer for one value type.
type Cache[V any] struct {
	clock source.Clock

	mu      sync.Mutex
	entries map[uint64]*entry[V]
}

// New returns an empty cache reading expiry times from clock.
func New[V any](clock source.Clock) *Cache[V] {
	return &Cache[V]{
		clock:   clock,
		entries: make(map[uint64]*entry[V]),
	}
}

// Get returns the cached value for key, building it if absent or expired.
// Concurrent callers for the same key share a single build. The error is
// non-nil only when ctx ends while waiting on another caller's build.
func (c *Cache[V]) Get(ctx context.Context, key uint64, ttl time.Duration, build func(context.Context) V) (V, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok {
			select {
			case <-e.ready:
				if c.clock.Now().Before(e.expires) {
					c.mu.Unlock()
					return e.val, nil
				}
				// expired; fall through and rebuild
				ok = false
			default:
				// build in flight; join it
			}
		}
		if !ok {
			e = &entry[V]{ready: make(chan struct{})}
			c.entries[key] = e
			c.mu.Unlock()

			e.val = build(ctx)
			e.expires = c.clock.Now().Add(ttl)
			close(e.ready)
			return e.val, nil
		}
		c.mu.Unlock()

		select {
		case <-e.ready:
			// the build may have expired between completion and our wake-up;
			// loop to re-check
			c.mu.Lock()
			expired := !c.clock.Now().Before(e.expires)
			c.mu.Unlock()
			if !expired {
				return e.val, nil
			}
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
}

// Purge drops every entry. Entries with builds in flight are abandoned; their
// builders still complete and in-flight joiners still observe the result, but
// later calls rebuild.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[uint64]*entry[V])
	c.mu.Unlock()
}
