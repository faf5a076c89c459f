// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Command server runs the Podsync sync backbone: command ingress, event
// store, projection runners, snapshot compaction, and the device push
// channel, all under one supervision tree.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/tomtom215/podsync/internal/api"
	"github.com/tomtom215/podsync/internal/auth"
	"github.com/tomtom215/podsync/internal/bus"
	"github.com/tomtom215/podsync/internal/config"
	"github.com/tomtom215/podsync/internal/database"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/projection"
	"github.com/tomtom215/podsync/internal/ratelimit"
	"github.com/tomtom215/podsync/internal/runtime"
	"github.com/tomtom215/podsync/internal/snapshot"
	"github.com/tomtom215/podsync/internal/supervisor"
	"github.com/tomtom215/podsync/internal/ws"
)

func main() {
	if err := run(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("Server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Logger().Info().Msg("Podsync starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return err
		}
	}
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := eventstore.NewPostgresStore(pool)

	// Command path.
	rt := runtime.New(store, runtime.Config{
		MaxRetries:      cfg.Runtime.MaxRetries,
		CacheCapacity:   cfg.Runtime.CacheCapacity,
		CacheTTL:        cfg.Runtime.CacheTTL,
		ReadBatchSize:   cfg.Runtime.ReadBatchSize,
		LockMaxIdle:     cfg.Runtime.LockMaxIdle,
		CleanupInterval: cfg.Runtime.CleanupInterval,
	})

	events := bus.New()
	defer events.Close()
	rt.OnAppend(func(userID string, res runtime.Result) {
		notice := bus.AppendNotice{
			UserID:        userID,
			StreamVersion: res.StreamVersion,
			EventCount:    res.EventCount,
		}
		if len(res.GlobalPositions) > 0 {
			notice.GlobalPosition = res.GlobalPositions[len(res.GlobalPositions)-1]
		}
		if err := events.PublishAppend(notice); err != nil {
			logging.Logger().Warn().Err(err).Msg("Append notice dropped")
		}
	})
	rt.Start()
	defer rt.Stop()

	limiter := ratelimit.NewUserLimiter(ratelimit.Config{
		PerSecond: cfg.RateLimit.PerSecond,
		Burst:     cfg.RateLimit.Burst,
		MaxIdle:   cfg.RateLimit.MaxIdle,
	})
	defer limiter.Stop()

	dispatcher := dispatch.New(rt, limiter, dispatch.Config{
		Timeout:                 cfg.Dispatcher.Timeout,
		BreakerFailureThreshold: cfg.Dispatcher.BreakerFailureThreshold,
		BreakerOpenFor:          cfg.Dispatcher.BreakerOpenFor,
	})

	// Query path.
	runnerCfg := projection.RunnerConfig{
		PollInterval: cfg.Projection.PollInterval,
		BatchSize:    cfg.Projection.BatchSize,
		BackoffMin:   cfg.Projection.BackoffMin,
		BackoffMax:   cfg.Projection.BackoffMax,
	}
	projectors := []projection.Projector{
		projection.SubscriptionsProjector{},
		projection.PlayStatusProjector{},
		projection.PlaylistsProjector{},
		projection.CollectionsProjector{},
		projection.PublicEventsProjector{},
		projection.PopularityProjector{},
	}
	runners := make([]*projection.Runner, 0, len(projectors))
	for _, p := range projectors {
		runners = append(runners, projection.NewRunner(pool, store, p, runnerCfg))
	}

	// Push channel and auth.
	hub := ws.NewHub(events)
	tokens, err := auth.NewManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	if err != nil {
		return err
	}

	server := api.New(cfg.Server, dispatcher, pool, hub, tokens)

	// Supervision.
	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	wakeables := make([]supervisor.Wakeable, 0, len(runners))
	for _, r := range runners {
		tree.AddDataService(r)
		wakeables = append(wakeables, r)
	}
	if cfg.Snapshot.Enabled {
		tree.AddDataService(snapshot.New(pool, store, dispatcher, snapshot.Config{
			Interval:      cfg.Snapshot.Interval,
			CheckpointAge: cfg.Snapshot.CheckpointAge,
		}))
	}
	tree.AddMessagingService(supervisor.NewFanout(events, wakeables...))
	tree.AddMessagingService(hub)
	tree.AddAPIService(server)

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Logger().Info().Msg("Podsync stopped")
		return nil
	}
	return err
}
