package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultCapacity = 1000

// ExerciseCache is a fixed-capacity LRU cache with per-entry TTL. It holds
// generated exercise content keyed by normalized request keys (see
// KeyGenerator). All methods are safe for concurrent use.
type ExerciseCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	stats    Stats
}

type exerciseEntry struct {
	key         string
	value       interface{}
	expiresAt   time.Time
	createdAt   time.Time
	accessCount int64
}

// NewExerciseCache creates a cache with the given configuration.
func NewExerciseCache(cfg Config) *ExerciseCache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ExerciseCache{
		capacity: capacity,
		ttl:      cfg.DefaultTTL,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		stats:    Stats{Capacity: capacity},
	}
}

func (e *exerciseEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Get returns the cached value and true on a hit. Missing and expired
// entries both return (nil, false) and count as misses; an expired entry is
// removed on the way out.
func (c *ExerciseCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*exerciseEntry)
	if entry.expired(time.Now()) {
		c.removeElement(elem)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	entry.accessCount++
	c.stats.Hits++
	c.stats.LastAccess = time.Now()

	return entry.value, true
}

// Set stores value under key with the default TTL.
func (c *ExerciseCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL. Updating an
// existing key refreshes its value and expiry in place and never evicts.
// Inserting a new key at capacity evicts the least-recently-used entry.
func (c *ExerciseCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*exerciseEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		c.stats.Sets++
		return
	}

	if len(c.entries) >= c.capacity {
		if victim := c.order.Back(); victim != nil {
			c.removeElement(victim)
			c.stats.Evictions++
		}
	}

	entry := &exerciseEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
		createdAt: time.Now(),
	}
	c.entries[key] = c.order.PushFront(entry)
	c.stats.Sets++
	c.stats.LastAccess = time.Now()
}

// Has reports whether key holds a live entry. Unlike Get it mutates
// neither recency order nor access counts.
func (c *ExerciseCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	return !elem.Value.(*exerciseEntry).expired(time.Now())
}

// Delete removes key if present.
func (c *ExerciseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// CleanExpired sweeps the whole cache, removing every expired entry, and
// returns how many were removed.
func (c *ExerciseCache) CleanExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*exerciseEntry).expired(now) {
			c.removeElement(elem)
			c.stats.Expirations++
			removed++
		}
		elem = next
	}

	return removed
}

// Len returns the current entry count, expired entries included until they
// are swept or read.
func (c *ExerciseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries and resets statistics.
func (c *ExerciseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.stats = Stats{Capacity: c.capacity}
}

// AccessCount returns how many times key has been read via Get. Zero for
// unknown keys.
func (c *ExerciseCache) AccessCount(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		return elem.Value.(*exerciseEntry).accessCount
	}
	return 0
}

// GetStats returns a point-in-time snapshot of cache statistics.
func (c *ExerciseCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.entries)
	return stats
}

// removeElement deletes the entry both from the map and the recency list.
// Caller must hold c.mu.
func (c *ExerciseCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*exerciseEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
