// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package runtime

import (
	"sync"
	"time"

	"github.com/tomtom215/podsync/internal/aggregate"
)

// stateEntry is one cached aggregate in the LRU list.
type stateEntry struct {
	userID    string
	state     *aggregate.State
	prev      *stateEntry
	next      *stateEntry
	expiresAt time.Time
}

// stateCache is a thread-safe LRU cache of replayed aggregates with TTL.
// Get, Add and eviction are all O(1): a doubly-linked list tracks recency and
// a map provides lookup. Expired entries are dropped lazily on access and in
// bulk by CleanupExpired.
//
// The cache is an optimization only. A cached state may be behind the stream
// head; the runtime always catches up from the store before handling a
// command, so staleness costs a short read, never correctness.
type stateCache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*stateEntry

	// head.next is most recently used, tail.prev least recently used.
	head *stateEntry
	tail *stateEntry

	hits   int64
	misses int64
}

func newStateCache(capacity int, ttl time.Duration) *stateCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &stateCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*stateEntry, capacity),
		head:     &stateEntry{},
		tail:     &stateEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached aggregate for a user, refreshing its recency.
func (c *stateCache) Get(userID string) (*aggregate.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[userID]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return nil, false
	}
	c.moveToFront(entry)
	c.hits++
	return entry.state, true
}

// Add stores or refreshes an aggregate, evicting the least recently used
// entry when over capacity.
func (c *stateCache) Add(userID string, state *aggregate.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if entry, ok := c.items[userID]; ok {
		entry.state = state
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &stateEntry{userID: userID, state: state, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[userID] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove drops a user's cached aggregate, if present.
func (c *stateCache) Remove(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[userID]; ok {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the current number of cached aggregates.
func (c *stateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes every expired entry and returns how many were
// dropped. Called periodically by the runtime's maintenance loop.
func (c *stateCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// Stats returns hit/miss counters and the current size.
func (c *stateCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

func (c *stateCache) addToFront(entry *stateEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *stateCache) moveToFront(entry *stateEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *stateCache) removeEntry(entry *stateEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.userID)
}

func (c *stateCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
