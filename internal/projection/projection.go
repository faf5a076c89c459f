// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package projection rebuilds queryable read models from the event log.
//
// One Runner drives one projector family. It reads the global log from the
// projector's durable checkpoint and applies each event together with the
// checkpoint advance in a single database transaction, so a projector can
// never observe an event it has not durably accounted for. Projectors are
// idempotent; redelivery after a rolled-back transaction is harmless.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/metrics"
)

// Projector transforms one event into SQL mutations on its own read-model
// tables. Apply runs inside the runner's transaction; it must be idempotent
// and must ignore event types it does not consume.
type Projector interface {
	Name() string
	Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error
}

// fatalError wraps an apply failure that retrying cannot fix. The runner
// halts the projector at the offending position instead of backing off.
type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// Fatal marks err as non-retryable for the runner.
func Fatal(err error) error { return fatalError{err: err} }

// ErrHalted is returned by Serve when the projector stops at a position that
// needs operator intervention. It wraps suture.ErrDoNotRestart so the
// supervisor leaves the halted projector down instead of thrashing on it.
var ErrHalted = fmt.Errorf("projection: halted: %w", suture.ErrDoNotRestart)

// RunnerConfig tunes one projection runner.
type RunnerConfig struct {
	// PollInterval is the idle poll period when no wake-ups arrive.
	// Default 2s.
	PollInterval time.Duration

	// BatchSize is how many events one drain pass reads. Default 200.
	BatchSize int

	// BackoffMin and BackoffMax bound the exponential retry backoff after an
	// apply failure. Defaults 250ms and 30s.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (c *RunnerConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Runner drives one projector against the global log.
type Runner struct {
	pool  *pgxpool.Pool
	store eventstore.Store
	proj  Projector
	cfg   RunnerConfig
	wake  chan struct{}
}

// NewRunner builds a runner for one projector.
func NewRunner(pool *pgxpool.Pool, store eventstore.Store, proj Projector, cfg RunnerConfig) *Runner {
	cfg.setDefaults()
	return &Runner{
		pool:  pool,
		store: store,
		proj:  proj,
		cfg:   cfg,
		wake:  make(chan struct{}, 1),
	}
}

// Notify wakes the runner ahead of its poll interval. Non-blocking; called
// from the append path for every committed batch.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Serve drains the log until ctx is cancelled. It satisfies suture.Service;
// a fatal apply failure halts this projector only and is surfaced as
// ErrHalted so the supervisor does not restart it.
func (r *Runner) Serve(ctx context.Context) error {
	log := logging.Logger().With().Str("projector", r.proj.Name()).Logger()
	log.Info().Msg("Projection runner started")
	metrics.ProjectorHalted.WithLabelValues(r.proj.Name()).Set(0)

	for {
		if err := r.drain(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			var fe fatalError
			if errors.As(err, &fe) {
				metrics.ProjectorHalted.WithLabelValues(r.proj.Name()).Set(1)
				log.Error().Err(err).Msg("Projector halted pending operator action")
				return ErrHalted
			}
			// drain already backed off; keep going.
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Projection runner stopped")
			return ctx.Err()
		case <-r.wake:
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// drain applies events until the log is exhausted or an error wins over the
// backoff budget for a single pass.
func (r *Runner) drain(ctx context.Context) error {
	pos, err := r.loadCheckpoint(ctx)
	if err != nil {
		return err
	}

	for {
		batch, err := r.store.ReadAll(ctx, pos, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("projection %s: read log: %w", r.proj.Name(), err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, env := range batch {
			if err := r.applyWithRetry(ctx, env); err != nil {
				return err
			}
			pos = env.GlobalPosition
		}
	}
}

// applyWithRetry commits one event transactionally, backing off on transient
// failure. It never advances past an event it could not apply.
func (r *Runner) applyWithRetry(ctx context.Context, env events.Envelope) error {
	backoff := r.cfg.BackoffMin
	for {
		start := time.Now()
		err := r.applyOne(ctx, env)
		if err == nil {
			metrics.RecordProjectorApply(r.proj.Name(), env.GlobalPosition, time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fe fatalError
		if errors.As(err, &fe) {
			return err
		}

		metrics.ProjectorErrors.WithLabelValues(r.proj.Name()).Inc()
		logging.Logger().Warn().
			Err(err).
			Str("projector", r.proj.Name()).
			Int64("position", env.GlobalPosition).
			Dur("backoff", backoff).
			Msg("Projection apply failed; backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.BackoffMax {
			backoff = r.cfg.BackoffMax
		}
	}
}

func (r *Runner) applyOne(ctx context.Context, env events.Envelope) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.proj.Apply(ctx, tx, env); err != nil {
		return err
	}

	// The checkpoint moves in the same transaction as the mutation; either
	// both land or neither does.
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (name, last_global_position)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET last_global_position = EXCLUDED.last_global_position`,
		r.proj.Name(), env.GlobalPosition,
	); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *Runner) loadCheckpoint(ctx context.Context) (int64, error) {
	var pos int64
	err := r.pool.QueryRow(ctx,
		`SELECT last_global_position FROM checkpoints WHERE name = $1`,
		r.proj.Name(),
	).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("projection %s: load checkpoint: %w", r.proj.Name(), err)
	}
	return pos, nil
}
