// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package ratelimit

import (
	"testing"
	"time"
)

func TestAllowEnforcesBurst(t *testing.T) {
	l := NewUserLimiter(Config{PerSecond: 1, Burst: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("user-1") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.Allow("user-1") {
		t.Fatal("request beyond burst allowed")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	l := NewUserLimiter(Config{PerSecond: 1, Burst: 1})
	defer l.Stop()

	if !l.Allow("user-1") {
		t.Fatal("first request rejected")
	}
	if l.Allow("user-1") {
		t.Fatal("user-1 over burst allowed")
	}
	if !l.Allow("user-2") {
		t.Fatal("user-2 starved by user-1's bucket")
	}
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	l := NewUserLimiter(Config{MaxIdle: time.Millisecond})
	defer l.Stop()

	l.Allow("user-1")
	l.Allow("user-2")
	time.Sleep(5 * time.Millisecond)
	l.cleanup()
	if got := l.Len(); got != 0 {
		t.Fatalf("idle buckets remain: %d", got)
	}
}
