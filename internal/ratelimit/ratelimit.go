// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package ratelimit shapes high-frequency command ingress. Play recordings
// arrive in bursts when a device comes back online and replays its queue;
// each user gets an independent token bucket so one chatty device cannot
// starve the log for everyone else.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes the per-user bucket.
type Config struct {
	// PerSecond is the sustained refill rate. Default 10.
	PerSecond float64
	// Burst is the bucket capacity. Default 20.
	Burst int
	// MaxIdle is how long an untouched bucket survives before cleanup.
	// Default 10 minutes.
	MaxIdle time.Duration
}

func (c *Config) setDefaults() {
	if c.PerSecond <= 0 {
		c.PerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 10 * time.Minute
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserLimiter is a thread-safe map of per-user token buckets.
type UserLimiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket

	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewUserLimiter creates a limiter and starts its cleanup loop.
func NewUserLimiter(cfg Config) *UserLimiter {
	cfg.setDefaults()
	l := &UserLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow consumes one token from the user's bucket, reporting whether the
// request may proceed.
func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of tracked buckets.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop halts the cleanup loop.
func (l *UserLimiter) Stop() {
	l.stopped.Do(func() { close(l.stop) })
	l.wg.Wait()
}

func (l *UserLimiter) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *UserLimiter) cleanup() {
	cutoff := time.Now().Add(-l.cfg.MaxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
