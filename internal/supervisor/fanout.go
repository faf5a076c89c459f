// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package supervisor

import (
	"context"

	"github.com/tomtom215/podsync/internal/bus"
	"github.com/tomtom215/podsync/internal/logging"
)

// Wakeable is anything that can be nudged ahead of its poll interval.
// Projection runners implement it.
type Wakeable interface {
	Notify()
}

// Fanout consumes append notices and wakes every registered target, so
// projectors pick up fresh events without waiting out their poll interval.
type Fanout struct {
	events  *bus.Bus
	targets []Wakeable
}

// NewFanout builds a fan-out over the given targets.
func NewFanout(events *bus.Bus, targets ...Wakeable) *Fanout {
	return &Fanout{events: events, targets: targets}
}

// Serve consumes notices until ctx is cancelled. Satisfies suture.Service.
func (f *Fanout) Serve(ctx context.Context) error {
	notices, err := f.events.SubscribeAppends(ctx)
	if err != nil {
		return err
	}
	logging.Logger().Info().Int("targets", len(f.targets)).Msg("Append fan-out started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-notices:
			if !ok {
				return nil
			}
			for _, t := range f.targets {
				t.Notify()
			}
		}
	}
}
