// Package cache provides a bounded set of recently claimed keys with TTL
// expiry, backed by an expirable LRU.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded, TTL-evicted set of keys. When full, the least recently
// used key is evicted.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache[K comparable] struct {
	mu  sync.Mutex // serializes Claim's check-and-add
	lru *expirable.LRU[K, struct{}]
}

// New creates a cache holding at most capacity keys for ttl each.
// A capacity below 1 is treated as 1; a ttl <= 0 disables expiry.
func New[K comparable](capacity int, ttl time.Duration) *Cache[K] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K]{lru: expirable.NewLRU[K, struct{}](capacity, nil, ttl)}
}

// Claim records key and reports whether the caller is its first holder.
// It returns false while an unexpired claim on key exists.
func (c *Cache[K]) Claim(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lru.Get(key); ok {
		return false
	}
	c.lru.Add(key, struct{}{})
	return true
}

// Release drops the claim on key so it can be claimed again.
func (c *Cache[K]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of keys held, including expired keys not yet swept.
func (c *Cache[K]) Len() int {
	return c.lru.Len()
}
