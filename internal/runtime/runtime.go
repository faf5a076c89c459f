// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package runtime executes commands against user aggregates. It serializes
// execution per user with a sharded lock map, caches replayed state, appends
// through the event store with optimistic concurrency and retries, and
// quarantines streams whose history can no longer be applied.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/events"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/metrics"
)

var (
	// ErrVersionConflict is returned when a command keeps losing the append
	// race after the configured number of retries.
	ErrVersionConflict = errors.New("runtime: version conflict after retries")

	// ErrStreamPoisoned is returned for streams quarantined after a fatal
	// apply failure. Commands against them fail fast until operator repair.
	ErrStreamPoisoned = errors.New("runtime: stream poisoned")
)

// Config tunes the runtime. Zero values fall back to defaults.
type Config struct {
	// MaxRetries is how many times a command is re-handled after losing an
	// optimistic append race before giving up.
	MaxRetries int

	// CacheCapacity and CacheTTL bound the replayed-aggregate cache.
	CacheCapacity int
	CacheTTL      time.Duration

	// ReadBatchSize is the page size for stream replay reads.
	ReadBatchSize int

	// LockMaxIdle and CleanupInterval drive the maintenance loop that
	// reclaims idle per-user locks and expired cache entries.
	LockMaxIdle     time.Duration
	CleanupInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 15 * time.Minute
	}
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 500
	}
	if c.LockMaxIdle <= 0 {
		c.LockMaxIdle = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

// Result reports a successful command execution.
type Result struct {
	// StreamVersion is the stream version after the command's events were
	// appended. Unchanged when the command emitted no events.
	StreamVersion int64

	// GlobalPositions are the log positions assigned to the appended events,
	// in emission order. Empty for zero-event successes.
	GlobalPositions []int64

	// EventCount is how many events the command produced.
	EventCount int
}

// Notifier is called after every append, outside the user lock. Used to wake
// projectors and push sync nudges to connected devices.
type Notifier func(userID string, res Result)

// Runtime owns command execution for all user streams.
type Runtime struct {
	store  eventstore.Store
	cfg    Config
	cache  *stateCache
	locks  *lockMap
	hc     aggregate.HandlerContext
	notify Notifier

	poisoned sync.Map // userID -> struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Runtime over the given store.
func New(store eventstore.Store, cfg Config) *Runtime {
	cfg.setDefaults()
	return &Runtime{
		store: store,
		cfg:   cfg,
		cache: newStateCache(cfg.CacheCapacity, cfg.CacheTTL),
		locks: newLockMap(),
		hc:    aggregate.DefaultHandlerContext(),
	}
}

// OnAppend registers the post-append notifier. Must be called before Start.
func (r *Runtime) OnAppend(fn Notifier) { r.notify = fn }

// Start launches the maintenance loop.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.maintenanceLoop()
	logging.Logger().Info().
		Int("cache_capacity", r.cfg.CacheCapacity).
		Int("max_retries", r.cfg.MaxRetries).
		Msg("Command runtime started")
}

// Stop halts the maintenance loop and waits for it.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()
	r.wg.Wait()
	logging.Logger().Info().Msg("Command runtime stopped")
}

func (r *Runtime) maintenanceLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			expired := r.cache.CleanupExpired()
			reclaimed := r.locks.Cleanup(r.cfg.LockMaxIdle)
			metrics.AggregateCacheSize.Set(float64(r.cache.Len()))
			if expired > 0 || reclaimed > 0 {
				logging.Logger().Debug().
					Int("expired_states", expired).
					Int("reclaimed_locks", reclaimed).
					Msg("Runtime maintenance pass")
			}
		}
	}
}

// Execute runs one command against the user's aggregate and returns the
// append result. Validation failures come back as *aggregate.ValidationError;
// lost append races are retried up to MaxRetries before ErrVersionConflict.
func (r *Runtime) Execute(ctx context.Context, userID string, cmd aggregate.Command, md events.Metadata) (Result, error) {
	if _, bad := r.poisoned.Load(userID); bad {
		return Result{}, ErrStreamPoisoned
	}

	release := r.locks.Acquire(userID)
	defer release()

	state, err := r.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.CommandRetries.Inc()
			if err := r.catchUp(ctx, state); err != nil {
				return Result{}, err
			}
		}

		payloads, err := aggregate.Handle(state, cmd, r.hc)
		if err != nil {
			return Result{}, err
		}
		if len(payloads) == 0 {
			// Valid commands may have nothing to record.
			return Result{StreamVersion: state.Version}, nil
		}

		proposed := make([]events.Proposed, len(payloads))
		for i, p := range payloads {
			pr, err := events.NewProposed(p)
			if err != nil {
				return Result{}, fmt.Errorf("runtime: encode command output: %w", err)
			}
			proposed[i] = pr
		}

		appendRes, err := r.store.Append(ctx, userID, state.Version, proposed, md)
		if err != nil {
			if errors.Is(err, eventstore.ErrWrongVersion) {
				// Another writer got in first. Catch up and re-handle; the
				// command may now be invalid or a no-op against the new state.
				continue
			}
			return Result{}, fmt.Errorf("runtime: append: %w", err)
		}

		if err := r.applyAppended(state, proposed, appendRes); err != nil {
			return Result{}, err
		}
		r.cache.Add(userID, state)

		res := Result{
			StreamVersion:   appendRes.NewVersion,
			GlobalPositions: appendRes.GlobalPositions,
			EventCount:      len(proposed),
		}
		if r.notify != nil {
			r.notify(userID, res)
		}
		return res, nil
	}

	logging.Ctx(ctx).Warn().
		Str("user_id", userID).
		Str("command", cmd.CommandName()).
		Int("retries", r.cfg.MaxRetries).
		Msg("Command lost every append race")
	return Result{}, ErrVersionConflict
}

// CurrentState replays a user's aggregate to the stream head and returns a
// deep copy. Used by diagnostics endpoints; never hands out the cached state.
func (r *Runtime) CurrentState(ctx context.Context, userID string) (*aggregate.State, error) {
	if _, bad := r.poisoned.Load(userID); bad {
		return nil, ErrStreamPoisoned
	}
	release := r.locks.Acquire(userID)
	defer release()

	state, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// Poisoned reports whether a user's stream is quarantined.
func (r *Runtime) Poisoned(userID string) bool {
	_, bad := r.poisoned.Load(userID)
	return bad
}

// load returns the user's aggregate at the stream head, replaying from
// scratch on a cache miss. Caller must hold the user lock.
func (r *Runtime) load(ctx context.Context, userID string) (*aggregate.State, error) {
	state, ok := r.cache.Get(userID)
	if !ok {
		state = aggregate.NewState(userID)
		metrics.AggregateReplays.Inc()
	}
	if err := r.catchUp(ctx, state); err != nil {
		return nil, err
	}
	r.cache.Add(userID, state)
	return state, nil
}

// catchUp applies every stored event past the state's version. A fatal apply
// failure quarantines the stream.
func (r *Runtime) catchUp(ctx context.Context, state *aggregate.State) error {
	for {
		batch, err := r.store.ReadStream(ctx, state.UserID, state.Version, r.cfg.ReadBatchSize)
		if err != nil {
			return fmt.Errorf("runtime: read stream %s: %w", state.UserID, err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, env := range batch {
			if err := aggregate.Apply(state, env); err != nil {
				r.poison(state.UserID, err)
				return ErrStreamPoisoned
			}
		}
		metrics.AggregateReplayedEvents.Add(float64(len(batch)))
		if len(batch) < r.cfg.ReadBatchSize {
			return nil
		}
	}
}

func (r *Runtime) poison(userID string, cause error) {
	if _, loaded := r.poisoned.LoadOrStore(userID, struct{}{}); loaded {
		return
	}
	r.cache.Remove(userID)
	metrics.StreamsPoisoned.Inc()
	logging.Logger().Error().
		Err(cause).
		Str("user_id", userID).
		Msg("Stream quarantined after fatal apply failure")
}

// applyAppended advances the in-memory state past the events just written,
// reusing the store-assigned versions so cache and log stay aligned.
func (r *Runtime) applyAppended(state *aggregate.State, proposed []events.Proposed, res eventstore.AppendResult) error {
	base := res.NewVersion - int64(len(proposed))
	for i, pr := range proposed {
		env := events.Envelope{
			StreamID:      state.UserID,
			StreamVersion: base + int64(i) + 1,
			Type:          pr.Type,
			Payload:       pr.Payload,
		}
		if err := aggregate.Apply(state, env); err != nil {
			// The event was produced by our own handler this request; failure
			// here means a payload bug, not history corruption.
			r.poison(state.UserID, err)
			return ErrStreamPoisoned
		}
	}
	return nil
}
