// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/ratelimit"
	"github.com/tomtom215/podsync/internal/runtime"
)

// failingStore simulates a database outage.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Append(context.Context, string, int64, []events.Proposed, events.Metadata) (eventstore.AppendResult, error) {
	return eventstore.AppendResult{}, errStoreDown
}

func (failingStore) ReadStream(context.Context, string, int64, int) ([]events.Envelope, error) {
	return nil, errStoreDown
}

func (failingStore) ReadAll(context.Context, int64, int) ([]events.Envelope, error) {
	return nil, errStoreDown
}

func (failingStore) DeleteStreamEventsBefore(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}

func newTestDispatcher(t *testing.T, limiter *ratelimit.UserLimiter) *Dispatcher {
	t.Helper()
	rt := runtime.New(eventstore.NewMemoryStore(), runtime.Config{})
	return New(rt, limiter, Config{Timeout: time.Second})
}

func TestDispatchSuccess(t *testing.T) {
	d := newTestDispatcher(t, nil)

	res, err := d.Dispatch(context.Background(), "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.EventCount != 3 {
		t.Fatalf("result: %+v", res)
	}
}

func TestDispatchValidationCode(t *testing.T) {
	d := newTestDispatcher(t, nil)

	_, err := d.Dispatch(context.Background(), "user-1", aggregate.CreatePlaylist{Name: ""}, nil)
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.Code != aggregate.CodeNameRequired {
		t.Fatalf("code: %s", de.Code)
	}
	// The aggregate error stays reachable for callers that need it.
	var ve *aggregate.ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("validation cause not unwrappable")
	}
}

func TestDispatchRateLimitsPlays(t *testing.T) {
	limiter := ratelimit.NewUserLimiter(ratelimit.Config{PerSecond: 1, Burst: 2})
	defer limiter.Stop()
	d := newTestDispatcher(t, limiter)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatal(err)
	}

	var limited bool
	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(ctx, "user-1", aggregate.RecordPlay{
			Feed: "f1", Item: "i1", Position: int64(i),
		}, nil)
		var de *Error
		if errors.As(err, &de) && de.Code == CodeRateLimited {
			limited = true
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if !limited {
		t.Fatal("burst of plays never rate limited")
	}

	// Other command types bypass the bucket.
	if _, err := d.Dispatch(ctx, "user-1", aggregate.CreatePlaylist{Name: "Q"}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchBreakerOpensOnInfrastructureFailure(t *testing.T) {
	rt := runtime.New(failingStore{}, runtime.Config{})
	d := New(rt, nil, Config{Timeout: time.Second, BreakerFailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
		var de *Error
		if !errors.As(err, &de) || de.Code != CodeUnavailable {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	// Breaker is now open; the store must not be touched.
	_, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil)
	var de *Error
	if !errors.As(err, &de) || de.Code != CodeUnavailable {
		t.Fatalf("open breaker: %v", err)
	}
}

func TestValidationDoesNotTripBreaker(t *testing.T) {
	d := newTestDispatcher(t, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := d.Dispatch(ctx, "user-1", aggregate.CreatePlaylist{Name: ""}, nil)
		var de *Error
		if !errors.As(err, &de) || de.Code != aggregate.CodeNameRequired {
			t.Fatalf("attempt %d: expected name_required, got %v", i, err)
		}
	}
	// A valid command still goes through.
	if _, err := d.Dispatch(ctx, "user-1", aggregate.Subscribe{Feed: "f1"}, nil); err != nil {
		t.Fatalf("breaker tripped by validation errors: %v", err)
	}
}
