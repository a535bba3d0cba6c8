// SPDX-License-Identifier: MIT

// Package respcache is the time-bounded response cache in front of repeated
// non-streaming queries. Keys are normalized query strings; values are the
// backend's non-streaming result shape.
//
// The memory implementation follows a deliberate weak-consistency design:
// reads are cheap and side-effect-free (an expired entry is a miss but is
// not evicted), and the only sweep runs on Set once the entry count exceeds
// the size bound. A long-idle process can therefore hold expired entries
// indefinitely; they are unreadable either way.
package respcache

import (
	"strings"
	"sync"
	"time"

	"github.com/danielliaow/assistant-stream/internal/assistant"
	"github.com/danielliaow/assistant-stream/internal/metrics"
)

// Cache stores non-streaming results keyed by normalized query text.
// Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the cached value for a query. Expired entries are misses.
	Get(query string) (assistant.QueryResult, bool)
	// Set stores a value under the query's normalized key. Last write wins.
	Set(query string, value assistant.QueryResult)
	// Size reports the current entry count, expired entries included.
	Size() int
	// Stats returns cache performance counters.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// Normalize maps a query to its cache key: leading/trailing whitespace
// trimmed, case folded. Two queries differing only in case or surrounding
// whitespace share one entry.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

type entry struct {
	value    assistant.QueryResult
	storedAt time.Time
}

// Memory is the in-process Cache implementation.
type Memory struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	stats   Stats
}

// NewMemory creates an in-memory cache. Entries live for ttl; a Set that
// leaves more than maxSize entries sweeps every expired entry.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	return &Memory{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the value stored for query if it has not expired. Expired
// entries are treated as misses and left in place for the next sweep.
func (c *Memory) Get(query string) (assistant.QueryResult, bool) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		c.stats.Misses++
		metrics.IncCacheOp(metrics.CacheOpMiss)
		return assistant.QueryResult{}, false
	}
	c.stats.Hits++
	metrics.IncCacheOp(metrics.CacheOpHit)
	return e.value, true
}

// Set stores value under the query's normalized key with the current
// timestamp. If the map then holds more than the size bound, every expired
// entry is swept, however it got there.
func (c *Memory) Set(query string, value assistant.QueryResult) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
	c.stats.Sets++
	metrics.IncCacheOp(metrics.CacheOpSet)

	if len(c.entries) > c.maxSize {
		c.sweepLocked()
	}
	metrics.CacheSize.Set(float64(len(c.entries)))
}

// sweepLocked removes every expired entry. Caller holds c.mu.
func (c *Memory) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			c.stats.Evictions++
			metrics.IncCacheOp(metrics.CacheOpEviction)
		}
	}
}

// Size reports the current entry count, expired entries included.
func (c *Memory) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a copy of the performance counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
