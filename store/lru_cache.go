package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"
)

// LRUCache pairs an LRU cache with a Bloom filter so misses on keys never
// written skip the cache lookup entirely. The recovery stores use it as the
// hot cache in front of Badger.
type LRUCache struct {
	cache       *lru.Cache[string, interface{}]
	bloomFilter *bloom.BloomFilter
	mutex       sync.RWMutex
}

// NewLRUCache creates a new LRU cache with a Bloom filter sized for the
// expected item count.
func NewLRUCache(size int, expectedItems uint, falsePositiveRate float64) (*LRUCache, error) {
	c, err := lru.New[string, interface{}](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{
		cache:       c,
		bloomFilter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}, nil
}

// Get retrieves a value from the cache.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloomFilter.TestString(key) {
		return nil, false
	}
	return c.cache.Get(key)
}

// Add adds a value to the cache.
func (c *LRUCache) Add(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bloomFilter.AddString(key)
	c.cache.Add(key, value)
}

// Remove evicts a key from the cache. The Bloom filter keeps the key, so
// later lookups fall through to the database.
func (c *LRUCache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache.Remove(key)
}

// MightContain reports whether the key was ever added. False positives are
// possible, false negatives are not.
func (c *LRUCache) MightContain(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.bloomFilter.TestString(key)
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.cache.Len()
}
