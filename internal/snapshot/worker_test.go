// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package snapshot

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/runtime"
)

func seedDispatcher(store eventstore.Store) *dispatch.Dispatcher {
	rt := runtime.New(store, runtime.Config{})
	return dispatch.New(rt, nil, dispatch.Config{})
}

func TestCompactStreamCheckpointsAndDeletes(t *testing.T) {
	store := eventstore.NewMemoryStore()
	d := seedDispatcher(store)
	ctx := context.Background()

	// Build a history: subscriptions, plays, a playlist.
	if _, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if _, err := d.Dispatch(ctx, "user-1", aggregate.RecordPlay{
			Feed: "f1", Item: fmt.Sprintf("i%d", i), Position: int64(i), Played: i%2 == 0,
		}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.Dispatch(ctx, "user-1", aggregate.CreatePlaylist{Name: "Queue"}, nil); err != nil {
		t.Fatal(err)
	}

	before, err := store.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	headVersion := before[len(before)-1].StreamVersion

	// Capture the state the checkpoint must reproduce.
	rtProbe := runtime.New(store, runtime.Config{})
	wantState, err := rtProbe.CurrentState(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	w := New(nil, store, d, Config{})
	if err := w.CompactStream(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	after, err := store.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 {
		t.Fatalf("expected only the checkpoint to remain, got %d events", len(after))
	}
	cp := after[0]
	if cp.Type != events.TypeUserCheckpoint {
		t.Fatalf("surviving event type %s", cp.Type)
	}
	if cp.StreamVersion != headVersion+1 {
		t.Fatalf("checkpoint at version %d, want %d", cp.StreamVersion, headVersion+1)
	}

	// Replaying the compacted stream must reproduce the pre-compaction state.
	rtFresh := runtime.New(store, runtime.Config{})
	gotState, err := rtFresh.CurrentState(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	gotState.Version = wantState.Version
	if !reflect.DeepEqual(wantState.Subscriptions, gotState.Subscriptions) ||
		!reflect.DeepEqual(wantState.PlayStatuses, gotState.PlayStatuses) ||
		!reflect.DeepEqual(wantState.Playlists, gotState.Playlists) ||
		!reflect.DeepEqual(wantState.Collections, gotState.Collections) {
		t.Fatal("state after compaction diverges from state before")
	}
}

func TestAppendSystemResolvesVersionRaces(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	// The system stream already has history from previous cycles.
	for i := 0; i < 3; i++ {
		ev := events.MustProposed(&events.PopularityRecalculated{})
		if _, err := store.Append(ctx, SystemStream, int64(i), []events.Proposed{ev}, nil); err != nil {
			t.Fatal(err)
		}
	}

	w := New(nil, store, seedDispatcher(store), Config{})
	ev := events.MustProposed(&events.PopularityRecalculated{})
	if err := w.appendSystem(ctx, ev); err != nil {
		t.Fatal(err)
	}

	got, err := store.ReadStream(ctx, SystemStream, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("system stream has %d events, want 4", len(got))
	}
}
