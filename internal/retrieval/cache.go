package retrieval

import "sync"

// DefaultCacheCapacity is the default response cache entry limit.
const DefaultCacheCapacity = 256

// responseKey identifies a cached response. Responses are personalised, so
// the user ID is part of the key.
type responseKey struct {
	userID  string
	message string
}

// ResponseCache memoises final response texts per (user, message). When the
// capacity is reached the whole cache is cleared rather than evicting single
// entries: the cache exists to absorb repeated identical questions in bursts,
// and a periodic full reset keeps it from serving long-stale personalised
// answers. Safe for concurrent use.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[responseKey]string
}

// NewResponseCache constructs a cache holding at most capacity entries.
func NewResponseCache(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ResponseCache{
		capacity: capacity,
		entries:  make(map[responseKey]string),
	}
}

// Get returns the cached response for (userID, message), if present.
func (c *ResponseCache) Get(userID, message string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[responseKey{userID, message}]
	return v, ok
}

// Put stores a response. If the cache is full it is cleared first.
func (c *ResponseCache) Put(userID, message, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := responseKey{userID, message}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.entries = make(map[responseKey]string)
	}
	c.entries[key] = response
}

// Clear removes all entries. Called when new training data lands, since any
// cached answer may now be out of date.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[responseKey]string)
}

// Len returns the number of cached responses.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
