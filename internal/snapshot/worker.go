// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package snapshot compacts user streams. Long histories replay slowly, so
// the worker periodically appends a UserCheckpoint summarizing the full
// aggregate state and then deletes the raw events the checkpoint covers.
// Deletion is strictly conditional on the checkpoint having been durably
// appended first.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/metrics"
)

// SystemStream is the reserved stream carrying worker-emitted events such as
// PopularityRecalculated. User ids never collide with it.
const SystemStream = "system.popularity"

// Config tunes the snapshot worker.
type Config struct {
	// Interval between compaction cycles. Default 6h.
	Interval time.Duration

	// CheckpointAge is the minimum age of a stream's oldest raw event before
	// the stream is compacted. Default 45 days.
	CheckpointAge time.Duration
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.CheckpointAge <= 0 {
		c.CheckpointAge = 45 * 24 * time.Hour
	}
}

// Worker runs the periodic compaction and popularity-recalculation cycle.
type Worker struct {
	pool       *pgxpool.Pool
	store      eventstore.Store
	dispatcher *dispatch.Dispatcher
	cfg        Config
}

// New builds a snapshot worker.
func New(pool *pgxpool.Pool, store eventstore.Store, dispatcher *dispatch.Dispatcher, cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{pool: pool, store: store, dispatcher: dispatcher, cfg: cfg}
}

// Serve runs cycles until ctx is cancelled. It satisfies suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	log := logging.Logger().With().Str("component", "snapshot_worker").Logger()
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("checkpoint_age", w.cfg.CheckpointAge).
		Msg("Snapshot worker started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Snapshot worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Snapshot cycle failed")
			}
		}
	}
}

// RunCycle performs one full pass: compact every eligible stream, then emit
// popularity recalculation for feeds whose counters moved.
func (w *Worker) RunCycle(ctx context.Context) error {
	streams, err := w.eligibleStreams(ctx)
	if err != nil {
		return err
	}

	var compacted int
	for _, userID := range streams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.CompactStream(ctx, userID); err != nil {
			// One stuck stream must not starve the rest of the cycle.
			logging.Logger().Warn().
				Err(err).
				Str("user_id", userID).
				Msg("Stream compaction skipped")
			continue
		}
		compacted++
	}

	if err := w.emitPopularity(ctx); err != nil {
		return err
	}

	metrics.SnapshotCycles.Inc()
	logging.Logger().Info().
		Int("eligible", len(streams)).
		Int("compacted", compacted).
		Msg("Snapshot cycle complete")
	return nil
}

// CompactStream checkpoints one user and deletes the events the checkpoint
// covers. The delete runs only after the checkpoint's version is known to be
// durable (it came back from the append).
func (w *Worker) CompactStream(ctx context.Context, userID string) error {
	res, err := w.dispatcher.Dispatch(ctx, userID, aggregate.Snapshot{}, events.Metadata{"device_id": "snapshot-worker"})
	if err != nil {
		return fmt.Errorf("snapshot: checkpoint %s: %w", userID, err)
	}
	metrics.SnapshotCheckpoints.Inc()

	deleted, err := w.store.DeleteStreamEventsBefore(ctx, userID, res.StreamVersion)
	if err != nil {
		// The checkpoint is already durable; a failed delete only leaves
		// redundant history behind. The next cycle retries.
		return fmt.Errorf("snapshot: compact %s: %w", userID, err)
	}
	metrics.SnapshotEventsDeleted.Add(float64(deleted))

	logging.Logger().Debug().
		Str("user_id", userID).
		Int64("checkpoint_version", res.StreamVersion).
		Int64("deleted", deleted).
		Msg("Stream compacted")
	return nil
}

// eligibleStreams returns user streams whose oldest non-checkpoint event is
// older than CheckpointAge.
func (w *Worker) eligibleStreams(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-w.cfg.CheckpointAge)
	rows, err := w.pool.Query(ctx,
		`SELECT stream_id FROM events
		 WHERE type <> $1 AND stream_id NOT LIKE 'system.%'
		 GROUP BY stream_id
		 HAVING MIN(recorded_at) <= $2`,
		events.TypeUserCheckpoint, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: scan streams: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// emitPopularity appends one PopularityRecalculated for all feeds whose
// counters moved since their last recalculation. The popularity projector
// rolls the *_previous columns when it consumes the event.
func (w *Worker) emitPopularity(ctx context.Context) error {
	rows, err := w.pool.Query(ctx,
		`SELECT feed, score, plays, saves FROM podcast_popularity
		 WHERE score <> COALESCE(score_previous, 0)
		    OR plays <> COALESCE(plays_previous, 0)`,
	)
	if err != nil {
		return fmt.Errorf("snapshot: scan popularity: %w", err)
	}
	defer rows.Close()

	var feeds []events.FeedCounters
	for rows.Next() {
		var fc events.FeedCounters
		if err := rows.Scan(&fc.Feed, &fc.Score, &fc.Plays, &fc.Likes); err != nil {
			return err
		}
		feeds = append(feeds, fc)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(feeds) == 0 {
		return nil
	}

	payload := events.MustProposed(&events.PopularityRecalculated{
		Feeds:          feeds,
		RecalculatedAt: time.Now().UTC().Truncate(time.Second),
	})
	return w.appendSystem(ctx, payload)
}

// appendSystem appends to the system stream, resolving the expected version
// from the conflict error when another worker instance raced us.
func (w *Worker) appendSystem(ctx context.Context, p events.Proposed) error {
	var expected int64
	for attempt := 0; attempt < 5; attempt++ {
		_, err := w.store.Append(ctx, SystemStream, expected, []events.Proposed{p}, nil)
		if err == nil {
			return nil
		}
		var wv *eventstore.WrongVersionError
		if errors.As(err, &wv) {
			expected = wv.ActualVersion
			continue
		}
		return fmt.Errorf("snapshot: append system event: %w", err)
	}
	return fmt.Errorf("snapshot: append system event: %w", eventstore.ErrWrongVersion)
}
