package provider

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// VectorCache holds catalog entry embeddings keyed by provider, catalog
// version and entry id. Vectors of a superseded version or another provider
// are never returned and age out through LRU eviction, so jobs on different
// versions do not purge each other's vectors.
type VectorCache struct {
	entries  *lru.Cache[string, []float64]
	capacity int
}

// NewVectorCache returns a cache holding at most size vectors.
func NewVectorCache(size int) (*VectorCache, error) {
	if size <= 0 {
		size = 1
	}
	entries, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &VectorCache{entries: entries, capacity: size}, nil
}

// Get returns the cached vector for an entry of one catalog version.
func (c *VectorCache) Get(provider, version, entryID string) ([]float64, bool) {
	return c.entries.Get(cacheKey(provider, version, entryID))
}

// Add stores the vector for an entry of one catalog version.
func (c *VectorCache) Add(provider, version, entryID string, vector []float64) {
	c.entries.Add(cacheKey(provider, version, entryID), vector)
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	return c.entries.Len()
}

// Capacity returns the most vectors the cache holds.
func (c *VectorCache) Capacity() int {
	return c.capacity
}

func cacheKey(provider, version, entryID string) string {
	return provider + "\x00" + version + "\x00" + entryID
}
