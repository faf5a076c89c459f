// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/podsync/internal/bus"
)

type signalService struct {
	started chan struct{}
}

func (s *signalService) Serve(ctx context.Context) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(TreeConfig{})

	svc := &signalService{started: make(chan struct{}, 1)}
	tree.AddDataService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("service never started")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not shut down")
	}
}

type countingTarget struct{ n atomic.Int64 }

func (c *countingTarget) Notify() { c.n.Add(1) }

func TestFanoutWakesTargets(t *testing.T) {
	b := bus.New()
	defer b.Close()

	a, c := &countingTarget{}, &countingTarget{}
	f := NewFanout(b, a, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Serve(ctx)

	// Subscription is asynchronous; retry publishing until a wake lands.
	deadline := time.Now().Add(2 * time.Second)
	for a.n.Load() == 0 && time.Now().Before(deadline) {
		if err := b.PublishAppend(bus.AppendNotice{UserID: "user-1"}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if a.n.Load() == 0 || c.n.Load() == 0 {
		t.Fatalf("targets not woken: a=%d c=%d", a.n.Load(), c.n.Load())
	}
}
