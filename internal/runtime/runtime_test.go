// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
)

func newTestRuntime(t *testing.T) (*Runtime, *eventstore.MemoryStore) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	return New(store, Config{}), store
}

func TestExecuteAppendsAndAdvancesVersion(t *testing.T) {
	r, store := newTestRuntime(t)
	ctx := context.Background()

	res, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// First subscribe emits subscription, default collection and membership.
	if res.EventCount != 3 || res.StreamVersion != 3 {
		t.Fatalf("result: %+v", res)
	}
	if len(res.GlobalPositions) != 3 || res.GlobalPositions[0] != 1 {
		t.Fatalf("positions: %v", res.GlobalPositions)
	}

	stored, err := store.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d events", len(stored))
	}
	if stored[0].Type != events.TypeUserSubscribed {
		t.Errorf("first event type %s", stored[0].Type)
	}
}

func TestExecuteValidationDoesNotAppend(t *testing.T) {
	r, store := newTestRuntime(t)
	ctx := context.Background()

	_, err := r.Execute(ctx, "user-1", aggregate.Unsubscribe{Feed: "ghost"}, nil)
	var ve *aggregate.ValidationError
	if !errors.As(err, &ve) || ve.Code != aggregate.CodeNotSubscribed {
		t.Fatalf("expected not_subscribed, got %v", err)
	}

	stored, _ := store.ReadStream(ctx, "user-1", 0, 0)
	if len(stored) != 0 {
		t.Fatalf("rejected command appended %d events", len(stored))
	}
}

func TestExecuteZeroEventSuccess(t *testing.T) {
	r, _ := newTestRuntime(t)
	ctx := context.Background()

	res1, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Re-adding the feed to its collection is a success with no events.
	def := mustDefaultCollection(t, r, "user-1")
	res2, err := r.Execute(ctx, "user-1", aggregate.AddFeedToCollection{CollectionID: def, Feed: "f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.EventCount != 0 || res2.StreamVersion != res1.StreamVersion {
		t.Fatalf("no-op success should not move the stream: %+v", res2)
	}
}

func mustDefaultCollection(t *testing.T, r *Runtime, userID string) string {
	t.Helper()
	state, err := r.CurrentState(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	id := state.DefaultCollectionID()
	if id == "" {
		t.Fatal("no default collection")
	}
	return id
}

func TestExecuteRecoversFromExternalAppend(t *testing.T) {
	r, store := newTestRuntime(t)
	ctx := context.Background()

	if _, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}

	// Another node appends behind our back; the cached state is now stale.
	sub := events.MustProposed(&events.UserSubscribed{Feed: "f2", SubscribedAt: time.Now().UTC()})
	if _, err := store.Append(ctx, "user-1", 3, []events.Proposed{sub}, nil); err != nil {
		t.Fatal(err)
	}

	// The next command must observe f2 and still succeed.
	res, err := r.Execute(ctx, "user-1", aggregate.Unsubscribe{Feed: "f2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StreamVersion != 5 {
		t.Fatalf("expected version 5 after catch-up, got %d", res.StreamVersion)
	}
}

func TestExecuteSerializesPerUser(t *testing.T) {
	r, store := newTestRuntime(t)
	ctx := context.Background()

	if _, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := r.Execute(ctx, "user-1", aggregate.RecordPlay{
					Feed: "f1", Item: "i1", Position: int64(w*100 + i), Played: false,
				}, nil)
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent execute: %v", err)
	}

	stored, _ := store.ReadStream(ctx, "user-1", 0, 0)
	// 3 from the subscribe plus one per play.
	if len(stored) != 3+workers*perWorker {
		t.Fatalf("expected %d events, got %d", 3+workers*perWorker, len(stored))
	}
	for i, env := range stored {
		if env.StreamVersion != int64(i+1) {
			t.Fatalf("versions not dense at %d: %d", i, env.StreamVersion)
		}
	}
}

func TestPoisonedStreamFailsFast(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	// Seed the stream with an event no registry entry can decode.
	bad := events.Proposed{Type: "podsync.mystery", Payload: json.RawMessage(`{}`)}
	if _, err := store.Append(ctx, "user-1", 0, []events.Proposed{bad}, nil); err != nil {
		t.Fatal(err)
	}

	r := New(store, Config{})
	_, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
	if !errors.Is(err, ErrStreamPoisoned) {
		t.Fatalf("expected ErrStreamPoisoned, got %v", err)
	}
	if !r.Poisoned("user-1") {
		t.Fatal("stream not marked poisoned")
	}

	// Subsequent commands fail without touching the store.
	_, err = r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f2"}, nil)
	if !errors.Is(err, ErrStreamPoisoned) {
		t.Fatalf("expected fast failure, got %v", err)
	}

	// Other users are unaffected.
	if _, err := r.Execute(ctx, "user-2", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatalf("healthy stream rejected: %v", err)
	}
}

func TestNotifierFiresAfterAppend(t *testing.T) {
	r, _ := newTestRuntime(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []Result
	r.OnAppend(func(userID string, res Result) {
		mu.Lock()
		defer mu.Unlock()
		if userID == "user-1" {
			got = append(got, res)
		}
	})

	if _, err := r.Execute(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}
	def := mustDefaultCollection(t, r, "user-1")
	// Zero-event successes must not notify.
	if _, err := r.Execute(ctx, "user-1", aggregate.AddFeedToCollection{CollectionID: def, Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].EventCount != 3 {
		t.Fatalf("notification result: %+v", got[0])
	}
}

func TestStateCacheEvictionAndTTL(t *testing.T) {
	c := newStateCache(2, 50*time.Millisecond)
	c.Add("a", aggregate.NewState("a"))
	c.Add("b", aggregate.NewState("b"))
	c.Add("c", aggregate.NewState("c")) // evicts a

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry not evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("entry b missing")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("b"); ok {
		t.Fatal("expired entry served")
	}
	if removed := c.CleanupExpired(); removed != 1 {
		t.Fatalf("cleanup removed %d, want 1 (c)", removed)
	}
}

func TestLockMapCleanupKeepsHeldLocks(t *testing.T) {
	m := newLockMap()
	release := m.Acquire("user-1")
	relTwo := m.Acquire("user-2")
	relTwo()

	// user-2 is idle; user-1 is held.
	time.Sleep(10 * time.Millisecond)
	removed := m.Cleanup(time.Nanosecond)
	if removed != 1 {
		t.Fatalf("cleanup removed %d locks, want 1", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("lock map size %d, want 1", m.Len())
	}
	release()
}
