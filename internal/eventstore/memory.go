// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/podsync/internal/events"
)

// MemoryStore is an in-memory Store with the same semantics as the Postgres
// implementation. It backs unit tests and local development without a
// database; it is not durable.
type MemoryStore struct {
	mu      sync.RWMutex
	all     []events.Envelope
	streams map[string][]int // stream_id -> indices into all, version order
	nextPos int64
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string][]int),
		nextPos: 1,
	}
}

var _ Store = (*MemoryStore)(nil)

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, streamID string, expectedVersion int64, batch []events.Proposed, md events.Metadata) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	if streamID == "" {
		return AppendResult{}, fmt.Errorf("eventstore: empty stream id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	currentVersion := s.currentVersionLocked(streamID)
	if currentVersion != expectedVersion {
		return AppendResult{}, &WrongVersionError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	if len(batch) == 0 {
		return AppendResult{NewVersion: expectedVersion}, nil
	}

	recordedAt := time.Now().UTC().Truncate(time.Second)
	positions := make([]int64, 0, len(batch))
	version := currentVersion

	for _, ev := range batch {
		version++
		env := events.Envelope{
			GlobalPosition: s.nextPos,
			StreamID:       streamID,
			StreamVersion:  version,
			Type:           ev.Type,
			Payload:        append([]byte(nil), ev.Payload...),
			Metadata:       md.Merge(nil),
			RecordedAt:     recordedAt,
		}
		s.streams[streamID] = append(s.streams[streamID], len(s.all))
		s.all = append(s.all, env)
		positions = append(positions, s.nextPos)
		s.nextPos++
	}

	return AppendResult{NewVersion: version, GlobalPositions: positions}, nil
}

// ReadStream implements Store.
func (s *MemoryStore) ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []events.Envelope
	for _, idx := range s.streams[streamID] {
		env := s.all[idx]
		if env.StreamVersion <= fromVersion {
			continue
		}
		out = append(out, env)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// ReadAll implements Store.
func (s *MemoryStore) ReadAll(ctx context.Context, fromPosition int64, max int) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// all is ordered by global position; binary search the start.
	start := sort.Search(len(s.all), func(i int) bool {
		return s.all[i].GlobalPosition > fromPosition
	})

	var out []events.Envelope
	for i := start; i < len(s.all); i++ {
		out = append(out, s.all[i])
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// DeleteStreamEventsBefore implements Store.
func (s *MemoryStore) DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indices := s.streams[streamID]
	var kept []int
	var removed int64
	removedIdx := make(map[int]bool)
	for _, idx := range indices {
		if s.all[idx].StreamVersion < keepFromVersion {
			removedIdx[idx] = true
			removed++
			continue
		}
		kept = append(kept, idx)
	}
	if removed == 0 {
		return 0, nil
	}

	// Rebuild the global slice without the removed entries. Global positions
	// of surviving events are preserved; the sequence stays monotonic but is
	// no longer dense, matching Postgres after a physical delete.
	newAll := make([]events.Envelope, 0, len(s.all)-int(removed))
	remap := make(map[int]int, len(s.all))
	for i, env := range s.all {
		if removedIdx[i] {
			continue
		}
		remap[i] = len(newAll)
		newAll = append(newAll, env)
	}
	s.all = newAll

	for id, idxs := range s.streams {
		if id == streamID {
			mapped := make([]int, 0, len(kept))
			for _, idx := range kept {
				mapped = append(mapped, remap[idx])
			}
			s.streams[id] = mapped
			continue
		}
		for i, idx := range idxs {
			idxs[i] = remap[idx]
		}
	}

	return removed, nil
}

func (s *MemoryStore) currentVersionLocked(streamID string) int64 {
	indices := s.streams[streamID]
	if len(indices) == 0 {
		return 0
	}
	return s.all[indices[len(indices)-1]].StreamVersion
}
