// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPostgresStore connects to the database named by
// PODSYNC_TEST_DATABASE_URL, or skips. The schema must already be migrated.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("PODSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PODSYNC_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool)
}

// testStream returns a unique stream id so tests can share one database.
func testStream() string {
	return fmt.Sprintf("test-user-%s", uuid.New().String())
}

func TestPostgresAppendAndRead(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	stream := testStream()

	res, err := s.Append(ctx, stream, 0, proposed(t, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewVersion != 3 || len(res.GlobalPositions) != 3 {
		t.Fatalf("append result: %+v", res)
	}

	got, err := s.ReadStream(ctx, stream, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].StreamVersion != 2 {
		t.Fatalf("exclusive read: %d events", len(got))
	}
}

func TestPostgresAppendConflict(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	stream := testStream()

	if _, err := s.Append(ctx, stream, 0, proposed(t, 2), nil); err != nil {
		t.Fatal(err)
	}

	_, err := s.Append(ctx, stream, 0, proposed(t, 1), nil)
	if !errors.Is(err, ErrWrongVersion) {
		t.Fatalf("err = %v, want ErrWrongVersion", err)
	}
	var wv *WrongVersionError
	if !errors.As(err, &wv) || wv.ActualVersion != 2 {
		t.Fatalf("conflict detail: %v", err)
	}
}

func TestPostgresDeleteStreamEventsBefore(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	stream := testStream()

	if _, err := s.Append(ctx, stream, 0, proposed(t, 5), nil); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteStreamEventsBefore(ctx, stream, 5)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}

	got, err := s.ReadStream(ctx, stream, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].StreamVersion != 5 {
		t.Fatalf("survivor: %d events", len(got))
	}

	if _, err := s.Append(ctx, stream, 5, proposed(t, 1), nil); err != nil {
		t.Fatalf("append after compaction: %v", err)
	}
}
