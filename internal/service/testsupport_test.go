package service

import (
	"strings"
	"sync"
	"time"

	"github.com/sahaay-labs/sahaay/internal/cache"
)

// fakeCache is an in-memory cache.Store for unit tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	hits    int64
	misses  int64
}

type fakeEntry struct {
	value     []byte
	expiresAt time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]fakeEntry)}
}

func (c *fakeCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

func (c *fakeCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = fakeEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *fakeCache) ClearNamespace(namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, namespace+":") {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *fakeCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]fakeEntry)
	return nil
}

func (c *fakeCache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cache.Stats{
		Size:      int64(len(c.entries)),
		HitCount:  c.hits,
		MissCount: c.misses,
	}
}
