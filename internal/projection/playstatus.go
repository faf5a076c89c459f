// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package projection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/podsync/internal/events"
)

// PlayStatusProjector maintains per-episode playback state, one row per
// (user, item).
type PlayStatusProjector struct{}

func (PlayStatusProjector) Name() string { return "play_statuses" }

func (PlayStatusProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypePlayRecorded, events.TypePositionUpdated, events.TypeUserCheckpoint:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("play_statuses: decode %d: %w", env.GlobalPosition, err))
	}

	switch e := p.(type) {
	case *events.PlayRecorded:
		_, err := tx.Exec(ctx,
			`INSERT INTO play_statuses (user_id, item, feed, position, played, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (user_id, item) DO UPDATE SET
			   feed = EXCLUDED.feed,
			   position = EXCLUDED.position,
			   played = EXCLUDED.played,
			   updated_at = EXCLUDED.updated_at`,
			env.StreamID, e.Item, e.Feed, e.Position, e.Played, e.Timestamp,
		)
		return err

	case *events.PositionUpdated:
		// Position updates never clear a played flag.
		_, err := tx.Exec(ctx,
			`INSERT INTO play_statuses (user_id, item, feed, position, played, updated_at)
			 VALUES ($1, $2, $3, $4, FALSE, $5)
			 ON CONFLICT (user_id, item) DO UPDATE SET
			   position = EXCLUDED.position,
			   updated_at = EXCLUDED.updated_at`,
			env.StreamID, e.Item, e.Feed, e.Position, e.Timestamp,
		)
		return err

	case *events.UserCheckpoint:
		if _, err := tx.Exec(ctx,
			`DELETE FROM play_statuses WHERE user_id = $1`, env.StreamID,
		); err != nil {
			return err
		}
		for item, st := range e.PlayStatuses {
			if _, err := tx.Exec(ctx,
				`INSERT INTO play_statuses (user_id, item, feed, position, played, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				env.StreamID, item, st.Feed, st.Position, st.Played, st.UpdatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}
