package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalCache remembers, per subject, when this process last confirmed the
// subject's quota record against the store. It is bounded and entries expire
// after ttl, so losing it only costs latency.
type LocalCache struct {
	lru *expirable.LRU[string, time.Time]
}

// NewLocalCache creates a local cache holding at most size subjects for ttl.
func NewLocalCache(size int, ttl time.Duration) *LocalCache {
	return &LocalCache{lru: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

// Touch records that subject was checked at checkedAt.
func (c *LocalCache) Touch(subject string, checkedAt time.Time) {
	c.lru.Add(subject, checkedAt)
}

// Fresh reports whether subject was checked within the TTL.
func (c *LocalCache) Fresh(subject string) bool {
	_, ok := c.lru.Get(subject)
	return ok
}

// LastChecked returns when subject was last checked.
func (c *LocalCache) LastChecked(subject string) (time.Time, bool) {
	return c.lru.Get(subject)
}

// Invalidate forgets subject.
func (c *LocalCache) Invalidate(subject string) {
	c.lru.Remove(subject)
}

// Len returns the number of subjects held.
func (c *LocalCache) Len() int {
	return c.lru.Len()
}

// Purge forgets every subject.
func (c *LocalCache) Purge() {
	c.lru.Purge()
}
