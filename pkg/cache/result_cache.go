// Package cache provides result caching for deterministic analytics calls.
//
// Clustering is a pure function of its points, method, parameters and seed,
// so a finished result can be served again for an identical request.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration for stale entries
// - Thread-safe operations
// - Cache hit/miss/eviction statistics
//
// Usage:
//
//	results := cache.New(256, 10*time.Minute)
//
//	key, err := cache.KeyOf(req, opts)
//	if v, ok := results.Get(key); ok {
//		return v.(cluster.Result), nil // Cache hit
//	}
//
//	res := compute(req)
//	results.Put(key, res)
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"
)

// Key identifies a cached result: the blake2b-256 digest of the request.
type Key [blake2b.Size256]byte

// KeyOf derives a Key from the msgpack encoding of parts.
//
// Same parts = same key. Struct fields are encoded by name, so any field
// that changes the result must be exported (or tagged) to take part.
func KeyOf(parts ...any) (Key, error) {
	h, _ := blake2b.New256(nil)
	enc := msgpack.NewEncoder(h)
	enc.SetSortMapKeys(true)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return Key{}, err
		}
	}

	var k Key
	copy(k[:], h.Sum(nil))
	return k, nil
}

// ResultCache is a thread-safe LRU cache with optional TTL.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - TTL for automatic expiration
type ResultCache struct {
	mu sync.Mutex

	// Configuration
	maxSize int
	ttl     time.Duration

	// LRU list and map
	list  *list.List
	items map[Key]*list.Element

	// Statistics
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// cacheEntry holds a cached item with metadata.
type cacheEntry struct {
	key       Key
	value     any
	expiresAt time.Time
}

// New creates a result cache.
//
// Parameters:
//   - maxSize: Maximum number of cached results (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func New(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ResultCache{
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[Key]*list.Element, maxSize),
	}
}

// Get retrieves a cached value if present and not expired.
//
// Returns (value, true) on cache hit, (nil, false) on miss.
// Moves the entry to front of LRU list on hit.
func (c *ResultCache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.evictions.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

// Put adds a value to the cache.
//
// If the cache is full, the least recently used entry is evicted.
// If the key already exists, the value is updated.
func (c *ResultCache) Put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = c.list.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
}

// Remove removes an entry from the cache.
func (c *ResultCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[Key]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *ResultCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   hitRate,
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size      int     `json:"size"`      // Current number of entries
	MaxSize   int     `json:"max_size"`  // Maximum capacity
	Hits      uint64  `json:"hits"`      // Number of cache hits
	Misses    uint64  `json:"misses"`    // Number of cache misses
	Evictions uint64  `json:"evictions"` // Entries dropped for capacity or expiry
	HitRate   float64 `json:"hit_rate"`  // Hit rate percentage (0-100)
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *ResultCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *ResultCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
