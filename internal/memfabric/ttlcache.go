package memfabric

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ttlEntry wraps a cached value with the time it was inserted, so expiry can
// be checked on read without a background sweep goroutine per cache.
type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache layers a time-to-live expiry check on top of
// [hashicorp/golang-lru/v2]'s size-bounded eviction: an entry is evicted
// either because the LRU is full or because it has aged past ttl, whichever
// comes first.
type ttlCache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	inner *lru.Cache[K, ttlEntry[V]]
}

func newTTLCache[K comparable, V any](size int, ttl time.Duration) *ttlCache[K, V] {
	inner, err := lru.New[K, ttlEntry[V]](size)
	if err != nil {
		// size <= 0 is the only failure mode of lru.New; both caches that
		// embed this type default their size to a positive constant, so
		// this is unreachable with this package's own constructors.
		panic(err)
	}
	return &ttlCache[K, V]{ttl: ttl, now: time.Now, inner: inner}
}

// get returns the cached value for key if present and not expired. An
// expired entry is evicted on the read that discovers it.
func (c *ttlCache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.inner.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		c.inner.Remove(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// put inserts or refreshes key with value, resetting its TTL.
func (c *ttlCache[K, V]) put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// len reports the number of entries currently tracked, including any that
// have expired but have not yet been evicted by a read.
func (c *ttlCache[K, V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// purgeExpired removes every entry whose TTL has elapsed as of now. Intended
// to be called periodically so a cache with no recent reads doesn't pin
// stale entries in memory until its next lookup.
func (c *ttlCache[K, V]) purgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.inner.Keys() {
		entry, ok := c.inner.Peek(key)
		if ok && c.now().After(entry.expiresAt) {
			c.inner.Remove(key)
			removed++
		}
	}
	return removed
}
