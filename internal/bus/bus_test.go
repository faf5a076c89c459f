// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notices, err := b.SubscribeAppends(ctx)
	if err != nil {
		t.Fatal(err)
	}

	want := AppendNotice{UserID: "user-1", StreamVersion: 7, GlobalPosition: 42, EventCount: 2}
	if err := b.PublishAppend(want); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-notices:
		if got != want {
			t.Fatalf("notice round-trip: got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notice never arrived")
	}
}

func TestEachSubscriberGetsEveryNotice(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.SubscribeAppends(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.SubscribeAppends(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.PublishAppend(AppendNotice{UserID: "user-1"}); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]<-chan AppendNotice{"a": a, "c": c} {
		select {
		case got := <-ch:
			if got.UserID != "user-1" {
				t.Fatalf("subscriber %s: %+v", name, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %s starved", name)
		}
	}
}
