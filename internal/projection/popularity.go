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

// Popularity score weights per action.
const (
	ScoreSubscribe = 10
	ScorePlay      = 5
	ScoreSave      = 3
	ScoreShare     = 2
)

// PopularityProjector maintains per-feed and per-episode popularity
// counters. The snapshot worker's PopularityRecalculated events roll current
// counters into the *_previous columns that trending deltas are computed
// from at query time.
type PopularityProjector struct{}

func (PopularityProjector) Name() string { return "popularity" }

func (PopularityProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypeUserSubscribed, events.TypeUserUnsubscribed,
		events.TypePlayRecorded, events.TypeEpisodeSaved,
		events.TypeEpisodeUnsaved, events.TypeEpisodeShared,
		events.TypePopularityRecalculated:
	default:
		return nil
	}

	// Counter bumps are deltas, not upserts on a natural key, so a
	// redelivered event (commit landed, ack lost) must be detected rather
	// than absorbed. The marker row commits in the same transaction as the
	// bumps: either both land or neither does.
	tag, err := tx.Exec(ctx,
		`INSERT INTO popularity_applied (global_position) VALUES ($1)
		 ON CONFLICT (global_position) DO NOTHING`,
		env.GlobalPosition,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("popularity: decode %d: %w", env.GlobalPosition, err))
	}

	switch e := p.(type) {
	case *events.UserSubscribed:
		return bumpFeed(ctx, tx, e.Feed, "subscribers", 1, ScoreSubscribe, env.RecordedAt)
	case *events.UserUnsubscribed:
		return bumpFeed(ctx, tx, e.Feed, "subscribers", -1, -ScoreSubscribe, env.RecordedAt)
	case *events.PlayRecorded:
		if !e.Played {
			return nil
		}
		if err := bumpFeed(ctx, tx, e.Feed, "plays", 1, ScorePlay, env.RecordedAt); err != nil {
			return err
		}
		return bumpEpisode(ctx, tx, e.Item, e.Feed, "plays", 1, ScorePlay, env.RecordedAt)
	case *events.EpisodeSaved:
		if err := bumpFeed(ctx, tx, e.Feed, "saves", 1, ScoreSave, env.RecordedAt); err != nil {
			return err
		}
		return bumpEpisode(ctx, tx, e.Item, e.Feed, "saves", 1, ScoreSave, env.RecordedAt)
	case *events.EpisodeUnsaved:
		if err := bumpFeed(ctx, tx, e.Feed, "saves", -1, -ScoreSave, env.RecordedAt); err != nil {
			return err
		}
		return bumpEpisode(ctx, tx, e.Item, e.Feed, "saves", -1, -ScoreSave, env.RecordedAt)
	case *events.EpisodeShared:
		if err := bumpFeed(ctx, tx, e.Feed, "shares", 1, ScoreShare, env.RecordedAt); err != nil {
			return err
		}
		return bumpEpisode(ctx, tx, e.Item, e.Feed, "shares", 1, ScoreShare, env.RecordedAt)

	case *events.PopularityRecalculated:
		for _, fc := range e.Feeds {
			if _, err := tx.Exec(ctx,
				`UPDATE podcast_popularity
				 SET score_previous = score, plays_previous = plays, recalculated_at = $2
				 WHERE feed = $1`,
				fc.Feed, e.RecalculatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// counterColumns guards the dynamic column name below.
var counterColumns = map[string]bool{"subscribers": true, "plays": true, "saves": true, "shares": true}

func bumpFeed(ctx context.Context, tx pgx.Tx, feed, column string, delta, scoreDelta int64, at any) error {
	if !counterColumns[column] {
		return fmt.Errorf("popularity: unknown counter %q", column)
	}
	query := fmt.Sprintf(
		`INSERT INTO podcast_popularity (feed, %[1]s, score, updated_at)
		 VALUES ($1, GREATEST($2, 0), GREATEST($3, 0), $4)
		 ON CONFLICT (feed) DO UPDATE SET
		   %[1]s = GREATEST(podcast_popularity.%[1]s + $2, 0),
		   score = GREATEST(podcast_popularity.score + $3, 0),
		   updated_at = EXCLUDED.updated_at`, column)
	_, err := tx.Exec(ctx, query, feed, delta, scoreDelta, at)
	return err
}

func bumpEpisode(ctx context.Context, tx pgx.Tx, item, feed, column string, delta, scoreDelta int64, at any) error {
	if !counterColumns[column] {
		return fmt.Errorf("popularity: unknown counter %q", column)
	}
	query := fmt.Sprintf(
		`INSERT INTO episode_popularity (item, feed, %[1]s, score, updated_at)
		 VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0), $5)
		 ON CONFLICT (item) DO UPDATE SET
		   %[1]s = GREATEST(episode_popularity.%[1]s + $3, 0),
		   score = GREATEST(episode_popularity.score + $4, 0),
		   updated_at = EXCLUDED.updated_at`, column)
	_, err := tx.Exec(ctx, query, item, feed, delta, scoreDelta, at)
	return err
}
