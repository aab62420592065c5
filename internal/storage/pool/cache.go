package pool

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recordCache keeps recently accessed encoded records in memory so that
// repeated loads skip the backend. Entries hold the encoded (uncompressed)
// blob; the pool decodes on the way out.
type recordCache struct {
	mu sync.RWMutex

	// Key: folder + "/" + record key
	records *lru.Cache[string, []byte]

	hits   uint64
	misses uint64
}

func newRecordCache(size int) (*recordCache, error) {
	records, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &recordCache{records: records}, nil
}

func cacheKey(folder, key string) string {
	return folder + "/" + key
}

// Get retrieves an encoded record from cache.
func (c *recordCache) Get(folder, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, found := c.records.Get(cacheKey(folder, key))
	if found {
		c.hits++
		return value, true
	}

	c.misses++
	return nil, false
}

// Put stores an encoded record in cache.
func (c *recordCache) Put(folder, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records.Add(cacheKey(folder, key), value)
}

// Remove drops a record from cache.
func (c *recordCache) Remove(folder, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records.Remove(cacheKey(folder, key))
}

// Stats returns hit/miss counters and the current length.
func (c *recordCache) Stats() (hits, misses uint64, length int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.hits, c.misses, c.records.Len()
}
