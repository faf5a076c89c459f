// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package runtime

import (
	"hash/fnv"
	"sync"
	"time"
)

const lockShardCount = 32

// userLock serializes command execution for one user. refs counts waiters so
// the cleanup pass never removes a lock someone is about to take.
type userLock struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

// lockMap hands out per-user mutexes on demand. Sharding keeps the map
// bookkeeping itself from becoming a point of contention; idle locks are
// reclaimed by cleanup once no goroutine references them.
type lockMap struct {
	shards [lockShardCount]*lockShard
}

func newLockMap() *lockMap {
	m := &lockMap{}
	for i := range m.shards {
		m.shards[i] = &lockShard{locks: make(map[string]*userLock)}
	}
	return m
}

func (m *lockMap) shard(userID string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return m.shards[h.Sum32()%lockShardCount]
}

// Acquire blocks until the caller holds the user's lock. The returned release
// function must be called exactly once.
func (m *lockMap) Acquire(userID string) (release func()) {
	s := m.shard(userID)

	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		l.lastUsed = time.Now()
		s.mu.Unlock()
	}
}

// Cleanup removes locks idle for longer than maxIdle with no holders or
// waiters. Returns how many were removed.
func (m *lockMap) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, l := range s.locks {
			if l.refs == 0 && l.lastUsed.Before(cutoff) {
				delete(s.locks, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of tracked locks.
func (m *lockMap) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
