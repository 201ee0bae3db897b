// Copyright (c) 2026 QueryGate. All rights reserved.

package explain

import (
	"sync"
	"time"
)

// verdictCache memoizes plan verdicts by SQL hash with a TTL and a hard
// size cap. Stale entries are purged on read; when full, the oldest entry
// is evicted.
type verdictCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[uint64]verdictEntry
}

type verdictEntry struct {
	verdict  error
	storedAt time.Time
}

func newVerdictCache(maxSize int, ttl time.Duration) *verdictCache {
	return &verdictCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[uint64]verdictEntry),
	}
}

func (c *verdictCache) get(key uint64) (error, bool) {
	if c.maxSize <= 0 || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.verdict, true
}

func (c *verdictCache) put(key uint64, verdict error) {
	if c.maxSize <= 0 || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = verdictEntry{verdict: verdict, storedAt: time.Now()}
}

func (c *verdictCache) evictOldestLocked() {
	var oldestKey uint64
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.storedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
