package services

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idCache remembers the ids returned by get-or-create, keyed by entity and
// natural key. A nil *idCache caches nothing.
type idCache struct {
	lru *lru.Cache[string, int64]
}

// newIDCache returns a cache of size entries, or nil when size is 0.
func newIDCache(size int) (*idCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create id cache: %w", err)
	}
	return &idCache{lru: c}, nil
}

func cacheKey(entity, key string) string {
	return entity + "\x00" + key
}

func (c *idCache) get(entity, key string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	return c.lru.Get(cacheKey(entity, key))
}

func (c *idCache) add(entries []cacheEntry) {
	if c == nil {
		return
	}
	for _, e := range entries {
		c.lru.Add(cacheKey(e.entity, e.key), e.id)
	}
}

func (c *idCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// cacheEntry is an id waiting for its transaction to commit before it is cached.
type cacheEntry struct {
	entity string
	key    string
	id     int64
}
