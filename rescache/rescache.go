// Package rescache implements ResultCache: a fingerprinted,
// TTL'd cache in front of ReadAPI calls, backed by an in-process LRU
// (github.com/golang/groupcache/lru), already an indirect dependency of
// go-git's own object cache and promoted here to a direct import (grounded
// on go-git's http/common.go and motemen-mir's main.go, both of which
// import groupcache/lru directly for the same reason: a small,
// dependency-free LRU type, not the distributed cache).
package rescache

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// DefaultTTL is one year: the key already invalidates on content change via
// the ref's latest commit OID, so a long TTL just bounds memory.
const DefaultTTL = 365 * 24 * time.Hour

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is a TTL'd wrapper around an in-process LRU.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
}

func New(maxEntries int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: lru.New(maxEntries), ttl: ttl}
}

// Key builds a (repoFullName, operation, params..., latestCommitOid) cache
// key.
func Key(repoFullName, operation string, latestCommitOID string, params ...string) string {
	parts := append([]string{repoFullName, operation}, params...)
	parts = append(parts, latestCommitOID)
	return strings.Join(parts, "\x00")
}

// Get returns the cached value for key, or ok == false on miss or expiry.
func (c *Cache) Get(key string) (value []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, found := c.lru.Get(key)
	if !found {
		return nil, false
	}
	e := v.(entry)
	if time.Now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the cache's configured TTL. A nil value
// is never cached.
func (c *Cache) Set(key string, value []byte) {
	if value == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: value, expires: time.Now().Add(c.ttl)})
}

// GetOrCompute returns the cached value for key, computing and storing it
// via fn on a miss. fn's nil result is returned but not cached.
func (c *Cache) GetOrCompute(key string, fn func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	return v, nil
}
