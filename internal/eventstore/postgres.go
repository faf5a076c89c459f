// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/metrics"
)

// PostgresStore implements Store on a PostgreSQL events table:
//
//	events(global_position BIGSERIAL PK,
//	       stream_id TEXT, stream_version BIGINT,
//	       type TEXT, payload JSONB, metadata JSONB,
//	       recorded_at TIMESTAMPTZ,
//	       UNIQUE(stream_id, stream_version))
//
// Appends take a transaction-scoped advisory lock keyed on hash(stream_id),
// read the current max version, check it against the caller's expectation and
// insert the batch. The lock serializes writers of the same stream even
// across processes, so stream versions stay dense. Global positions come
// from the BIGSERIAL: within a batch they are strictly increasing but not
// necessarily consecutive, since concurrent appends to other streams draw
// from the same sequence. A transaction holding a lower position can also
// commit after a higher one becomes visible, so position-based readers may
// observe a gap that fills in later. The unique constraint is the backstop
// should two writers race past the lock (different lock key spaces can only
// happen on hash collision, where the constraint still holds correctness).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed event store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// streamLockKey derives the advisory lock key for a stream.
func streamLockKey(streamID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(streamID))
	return int64(h.Sum64())
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, streamID string, expectedVersion int64, batch []events.Proposed, md events.Metadata) (AppendResult, error) {
	if streamID == "" {
		return AppendResult{}, fmt.Errorf("eventstore: empty stream id")
	}

	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AppendResult{}, fmt.Errorf("eventstore: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, streamLockKey(streamID)); err != nil {
		return AppendResult{}, fmt.Errorf("eventstore: stream lock: %w", err)
	}

	var currentVersion int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(stream_version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&currentVersion); err != nil {
		return AppendResult{}, fmt.Errorf("eventstore: read current version: %w", err)
	}

	if currentVersion != expectedVersion {
		metrics.EventStoreConflicts.Inc()
		return AppendResult{}, &WrongVersionError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	if len(batch) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, fmt.Errorf("eventstore: commit empty append: %w", err)
		}
		return AppendResult{NewVersion: expectedVersion}, nil
	}

	meta, err := json.Marshal(md)
	if err != nil {
		return AppendResult{}, fmt.Errorf("eventstore: encode metadata: %w", err)
	}

	recordedAt := time.Now().UTC().Truncate(time.Second)
	positions := make([]int64, 0, len(batch))
	version := currentVersion

	for _, ev := range batch {
		version++
		var pos int64
		err := tx.QueryRow(ctx,
			`INSERT INTO events (stream_id, stream_version, type, payload, metadata, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING global_position`,
			streamID, version, ev.Type, ev.Payload, meta, recordedAt,
		).Scan(&pos)
		if err != nil {
			if isUniqueViolation(err) {
				metrics.EventStoreConflicts.Inc()
				return AppendResult{}, &WrongVersionError{
					StreamID:        streamID,
					ExpectedVersion: expectedVersion,
					ActualVersion:   version,
				}
			}
			return AppendResult{}, fmt.Errorf("eventstore: insert event: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, fmt.Errorf("eventstore: commit append: %w", err)
	}

	metrics.EventStoreAppends.Add(float64(len(batch)))
	metrics.EventStoreAppendDuration.Observe(time.Since(start).Seconds())
	return AppendResult{NewVersion: version, GlobalPositions: positions}, nil
}

// ReadStream implements Store.
func (s *PostgresStore) ReadStream(ctx context.Context, streamID string, fromVersion int64, max int) ([]events.Envelope, error) {
	query := `SELECT global_position, stream_id, stream_version, type, payload, metadata, recorded_at
	          FROM events
	          WHERE stream_id = $1 AND stream_version > $2
	          ORDER BY stream_version ASC`
	args := []any{streamID, fromVersion}
	if max > 0 {
		query += ` LIMIT $3`
		args = append(args, max)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: read stream %s: %w", streamID, err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// ReadAll implements Store.
func (s *PostgresStore) ReadAll(ctx context.Context, fromPosition int64, max int) ([]events.Envelope, error) {
	query := `SELECT global_position, stream_id, stream_version, type, payload, metadata, recorded_at
	          FROM events
	          WHERE global_position > $1
	          ORDER BY global_position ASC`
	args := []any{fromPosition}
	if max > 0 {
		query += ` LIMIT $2`
		args = append(args, max)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: read all: %w", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// DeleteStreamEventsBefore implements Store.
func (s *PostgresStore) DeleteStreamEventsBefore(ctx context.Context, streamID string, keepFromVersion int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE stream_id = $1 AND stream_version < $2`,
		streamID, keepFromVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("eventstore: delete stream %s below %d: %w", streamID, keepFromVersion, err)
	}
	return tag.RowsAffected(), nil
}

func scanEnvelopes(rows pgx.Rows) ([]events.Envelope, error) {
	var out []events.Envelope
	for rows.Next() {
		var (
			env  events.Envelope
			meta []byte
		)
		if err := rows.Scan(&env.GlobalPosition, &env.StreamID, &env.StreamVersion,
			&env.Type, &env.Payload, &meta, &env.RecordedAt); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &env.Metadata); err != nil {
				return nil, fmt.Errorf("eventstore: decode metadata at %d: %w", env.GlobalPosition, err)
			}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: iterate events: %w", err)
	}
	return out, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
