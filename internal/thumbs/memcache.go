package thumbs

import (
	"sync"
	"time"

	"asset-atlas/internal/metrics"
)

// memEntry is one cached thumbnail payload.
type memEntry struct {
	data       []byte
	lastAccess time.Time
}

// memCache is the in-process tier of the thumbnail cache: a bounded map of
// encoded payloads, evicting least-recently-used entries when full.
type memCache struct {
	maxSize int64

	mu      sync.Mutex
	entries map[string]*memEntry
	size    int64
}

func newMemCache(maxSize int64) *memCache {
	return &memCache{
		maxSize: maxSize,
		entries: make(map[string]*memEntry),
	}
}

func (c *memCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry.lastAccess = time.Now()
	return entry.data, true
}

func (c *memCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.size -= int64(len(existing.data))
	}

	// Evict if needed
	for c.size+int64(len(data)) > c.maxSize {
		if !c.evictOldest() {
			break // Nothing to evict
		}
	}

	c.entries[key] = &memEntry{data: data, lastAccess: time.Now()}
	c.size += int64(len(data))
	metrics.ThumbnailCacheSize.Set(float64(c.size))
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *memCache) evictOldest() bool {
	var oldest *memEntry
	var oldestKey string

	for key, entry := range c.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
			oldestKey = key
		}
	}

	if oldest == nil {
		return false
	}

	c.size -= int64(len(oldest.data))
	delete(c.entries, oldestKey)
	return true
}

func (c *memCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*memEntry)
	c.size = 0
	metrics.ThumbnailCacheSize.Set(0)
}
