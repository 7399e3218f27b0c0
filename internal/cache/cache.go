// Package cache holds the in-memory query cache read by UI code and the
// bridge that keeps it in step with local writes and sync passes.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type entry struct {
	data      any
	stale     bool
	updatedAt time.Time
}

// QueryCache is a key-value cache addressed by query keys.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewQueryCache returns an empty cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[string]*entry)}
}

// Key builds a query key from a collection name and an optional config
// object. Config is rendered as canonical JSON so equal configs share a key.
func Key(collection string, config any) string {
	if config == nil {
		return collection
	}
	b, err := json.Marshal(config)
	if err != nil {
		return collection + ":" + fmt.Sprint(config)
	}
	return collection + ":" + string(b)
}

// EntityKey is the key of a single record.
func EntityKey(collection string, id int64) string {
	return Key(collection, map[string]int64{"id": id})
}

// SetQueryData stores data under key as fresh.
func (c *QueryCache) SetQueryData(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{data: data, updatedAt: time.Now()}
}

// GetQueryData returns the cached data, fresh or stale.
func (c *QueryCache) GetQueryData(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// IsStale reports whether key is cached and marked stale.
func (c *QueryCache) IsStale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return ok && e.stale
}

// InvalidateQueries marks every key under the given collection prefixes
// stale. With no prefixes, everything is invalidated.
func (c *QueryCache) InvalidateQueries(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if len(prefixes) == 0 || hasAnyPrefix(key, prefixes) {
			e.stale = true
		}
	}
}

// RemoveQueries drops the given keys.
func (c *QueryCache) RemoveQueries(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if key == p || strings.HasPrefix(key, p+":") {
			return true
		}
	}
	return false
}
