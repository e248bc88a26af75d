package embedding

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

// VectorCache is an LRU cache for computed embeddings, keyed by the
// SHA-256 of the image bytes. Re-submitting the same image skips
// inference entirely.
type VectorCache struct {
	capacity int
	cache    map[[sha256.Size]byte]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   [sha256.Size]byte
	value []float32
}

// NewVectorCache creates a cache with the given capacity.
func NewVectorCache(capacity int) *VectorCache {
	return &VectorCache{
		capacity: capacity,
		cache:    make(map[[sha256.Size]byte]*list.Element),
		lru:      list.New(),
	}
}

// Key returns the cache key for an image.
func (c *VectorCache) Key(image []byte) [sha256.Size]byte {
	return sha256.Sum256(image)
}

// Get returns the cached embedding for key if present.
func (c *VectorCache) Get(key [sha256.Size]byte) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry at capacity.
func (c *VectorCache) Set(key [sha256.Size]byte, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}
