// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/podsync/internal/events"
)

func proposed(t *testing.T, n int) []events.Proposed {
	t.Helper()
	batch := make([]events.Proposed, 0, n)
	for i := 0; i < n; i++ {
		p, err := events.NewProposed(&events.UserSubscribed{
			Feed:         "https://example.com/feed.xml",
			SubscribedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
		batch = append(batch, p)
	}
	return batch
}

func TestAppendAssignsDenseVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.Append(ctx, "user-1", 0, proposed(t, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewVersion != 3 {
		t.Errorf("NewVersion = %d, want 3", res.NewVersion)
	}
	if len(res.GlobalPositions) != 3 {
		t.Fatalf("positions: %v", res.GlobalPositions)
	}
	for i := 1; i < len(res.GlobalPositions); i++ {
		if res.GlobalPositions[i] != res.GlobalPositions[i-1]+1 {
			t.Errorf("batch positions not consecutive: %v", res.GlobalPositions)
		}
	}

	res, err = s.Append(ctx, "user-1", 3, proposed(t, 2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewVersion != 5 {
		t.Errorf("NewVersion after second batch = %d, want 5", res.NewVersion)
	}
}

func TestAppendWrongVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "user-1", 0, proposed(t, 2), nil); err != nil {
		t.Fatal(err)
	}

	_, err := s.Append(ctx, "user-1", 0, proposed(t, 1), nil)
	if !errors.Is(err, ErrWrongVersion) {
		t.Fatalf("err = %v, want ErrWrongVersion", err)
	}
	var wv *WrongVersionError
	if !errors.As(err, &wv) {
		t.Fatal("not a *WrongVersionError")
	}
	if wv.ActualVersion != 2 || wv.ExpectedVersion != 0 {
		t.Errorf("conflict detail: %+v", wv)
	}

	// The failed append must leave the stream untouched.
	got, err := s.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("stream length after failed append: %d", len(got))
	}
}

func TestAppendEmptyBatchIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.Append(ctx, "user-1", 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewVersion != 0 || len(res.GlobalPositions) != 0 {
		t.Errorf("empty batch result: %+v", res)
	}
}

func TestReadStreamFromVersionIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "user-1", 0, proposed(t, 5), nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadStream(ctx, "user-1", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].StreamVersion != 4 || got[1].StreamVersion != 5 {
		t.Errorf("versions: %d, %d", got[0].StreamVersion, got[1].StreamVersion)
	}

	// max caps the page.
	got, err = s.ReadStream(ctx, "user-1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].StreamVersion != 2 {
		t.Errorf("paged read: %d events", len(got))
	}
}

func TestReadAllInterleavesStreamsInGlobalOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "user-1", 0, proposed(t, 2), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, "user-2", 0, proposed(t, 2), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, "user-1", 2, proposed(t, 1), nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadAll(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5", len(got))
	}
	for i, env := range got {
		if env.GlobalPosition != int64(i+1) {
			t.Errorf("position %d at index %d", env.GlobalPosition, i)
		}
	}

	// fromPosition is exclusive.
	got, err = s.ReadAll(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].GlobalPosition != 4 {
		t.Errorf("tail read: %d events", len(got))
	}
}

func TestAppendCopiesMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	md := events.Metadata{"device_id": "phone-1"}
	if _, err := s.Append(ctx, "user-1", 0, proposed(t, 2), md); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, env := range got {
		if env.Metadata["device_id"] != "phone-1" {
			t.Errorf("metadata missing on version %d", env.StreamVersion)
		}
	}
}

func TestDeleteStreamEventsBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "user-1", 0, proposed(t, 4), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, "user-2", 0, proposed(t, 2), nil); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteStreamEventsBefore(ctx, "user-1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	// The survivor keeps its original version and global position.
	got, err := s.ReadStream(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].StreamVersion != 4 || got[0].GlobalPosition != 4 {
		t.Fatalf("survivor: %+v", got)
	}

	// Other streams are untouched and still readable through the global log.
	other, err := s.ReadStream(ctx, "user-2", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 2 {
		t.Fatalf("user-2 stream: %d events", len(other))
	}
	all, err := s.ReadAll(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("global log: %d events", len(all))
	}

	// Appends continue from the surviving version.
	res, err := s.Append(ctx, "user-1", 4, proposed(t, 1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewVersion != 5 {
		t.Errorf("NewVersion after compaction = %d", res.NewVersion)
	}

	// Deleting nothing reports zero.
	removed, err = s.DeleteStreamEventsBefore(ctx, "user-2", 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
