package manifest

import (
	"container/list"
	"sync"
	"time"
)

// Segment names the three process-wide cache tiers required by §4.4.
type Segment string

const (
	SegmentManifests Segment = "manifests"
	SegmentFileLists Segment = "file_lists"
	SegmentDataPages Segment = "data_pages"
)

// DefaultSegmentConfig returns the capacity/TTL defaults for each
// required segment: manifests (larger, minutes), file lists (medium),
// data pages (small, seconds).
func DefaultSegmentConfig() map[Segment]CacheConfig {
	return map[Segment]CacheConfig{
		SegmentManifests: {Capacity: 4096, TTL: 5 * time.Minute},
		SegmentFileLists: {Capacity: 1024, TTL: 60 * time.Second},
		SegmentDataPages: {Capacity: 256, TTL: 10 * time.Second},
	}
}

// CacheConfig configures one bounded cache's capacity and entry TTL. A
// TTL of zero disables expiry; a negative TTL expires entries at once.
type CacheConfig struct {
	Capacity int
	TTL      time.Duration
}

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a bounded TTL+LRU cache. Eviction on size overflow removes the
// least-recently-used entry (Get and Set both mark an entry used); expired
// entries are treated as misses without being counted as evictions. The
// cache is an accelerator only: every method degrades gracefully to a
// miss, and correctness of callers must not depend on cache contents.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	index    map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewCache constructs a bounded cache from config.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or
// expiry. A hit moves the entry to most-recently-used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl != 0 && time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.index, key)
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// Set inserts or updates key, evicting the least-recently-used entry if
// capacity is exceeded.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{}
	if c.ttl != 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if el, ok := c.index[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, value: value, expiresAt: expiresAt}
	el := c.ll.PushFront(entry)
	c.index[key] = el

	if c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*cacheEntry).key)
			c.evictions++
		}
	}
}

// Clear invalidates all cached entries (used on manifest-id mismatch,
// §4.4).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.index = make(map[string]*list.Element)
}

// Stats is the {hit, miss, eviction} observability surface required by
// §4.4.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: c.ll.Len()}
}

// Segments groups the three required cache tiers under one composition
// root, per §9's guidance that caches become explicit objects owned by
// the caller.
type Segments struct {
	Manifests *Cache
	FileLists *Cache
	DataPages *Cache
}

// NewSegments builds all three segments from the given per-segment
// configuration (DefaultSegmentConfig() when the caller has no override).
func NewSegments(cfg map[Segment]CacheConfig) *Segments {
	return &Segments{
		Manifests: NewCache(cfg[SegmentManifests]),
		FileLists: NewCache(cfg[SegmentFileLists]),
		DataPages: NewCache(cfg[SegmentDataPages]),
	}
}
