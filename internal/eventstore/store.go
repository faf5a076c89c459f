// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package eventstore persists the append-only event log.
//
// The store keeps one totally ordered log per stream (dense stream_version
// starting at 1) and a derived global log (dense global_position across all
// streams). Appends are atomic and conditional on the caller's expected
// stream version; conflicts surface as *WrongVersionError and the dispatcher
// owns the retry policy.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/podsync/internal/events"
)

// ErrWrongVersion is matched by errors.Is for any *WrongVersionError.
var ErrWrongVersion = errors.New("eventstore: wrong expected version")

// WrongVersionError reports an optimistic-concurrency conflict on append.
type WrongVersionError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *WrongVersionError) Error() string {
	return fmt.Sprintf("eventstore: stream %s at version %d, expected %d",
		e.StreamID, e.ActualVersion, e.ExpectedVersion)
}

func (e *WrongVersionError) Is(target error) bool { return target == ErrWrongVersion }

// AppendResult reports the versions and global positions assigned to an
// appended batch.
type AppendResult struct {
	// NewVersion is the stream version of the last appended event.
	NewVersion int64
	// GlobalPositions holds the assigned global positions, one per event,
	// in batch order. Positions within a batch are strictly increasing.
	GlobalPositions []int64
}

// Store is the append-only event log contract.
//
// All operations either fully succeed or leave the store unchanged.
type Store interface {
	// Append atomically appends a batch to a stream. expectedVersion must
	// equal the stream's current version (0 for a new or empty stream) or
	// the call fails with *WrongVersionError. Metadata is copied onto every
	// event of the batch.
	Append(ctx context.Context, streamID string, expectedVersion int64, batch []events.Proposed, md events.Metadata) (AppendResult, error)

	// ReadStream returns up to max events of one stream with
	// stream_version > fromVersion, in ascending version order.
	// max <= 0 means no limit.
	ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Envelope, error)

	// ReadAll returns up to max events with global_position > fromPosition,
	// in ascending global order. max <= 0 means no limit.
	ReadAll(ctx context.Context, fromPosition int64, max int) ([]events.Envelope, error)

	// DeleteStreamEventsBefore physically removes events of the stream with
	// stream_version < keepFromVersion and returns the number removed. Only
	// the snapshot worker calls this, after a UserCheckpoint at or above
	// keepFromVersion has been durably appended.
	DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) (int64, error)
}
