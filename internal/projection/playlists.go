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

// PlaylistsProjector maintains playlists and their ordered items. Playlists
// are soft-deleted via deleted_at so shared links degrade gracefully instead
// of 404ing.
type PlaylistsProjector struct{}

func (PlaylistsProjector) Name() string { return "playlists" }

func (PlaylistsProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypePlaylistCreated, events.TypePlaylistUpdated, events.TypePlaylistDeleted,
		events.TypePlaylistReordered, events.TypePlaylistVisibilityChanged,
		events.TypeEpisodeSaved, events.TypeEpisodeUnsaved, events.TypeUserCheckpoint:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("playlists: decode %d: %w", env.GlobalPosition, err))
	}

	userID := env.StreamID
	switch e := p.(type) {
	case *events.PlaylistCreated:
		_, err := tx.Exec(ctx,
			`INSERT INTO playlists (user_id, playlist_id, name, description, is_public, deleted_at)
			 VALUES ($1, $2, $3, $4, $5, NULL)
			 ON CONFLICT (user_id, playlist_id) DO UPDATE SET
			   name = EXCLUDED.name,
			   description = EXCLUDED.description,
			   is_public = EXCLUDED.is_public,
			   deleted_at = NULL`,
			userID, e.PlaylistID, e.Name, e.Description, e.IsPublic,
		)
		return err

	case *events.PlaylistUpdated:
		_, err := tx.Exec(ctx,
			`UPDATE playlists SET name = $3, description = $4
			 WHERE user_id = $1 AND playlist_id = $2`,
			userID, e.PlaylistID, e.Name, e.Description,
		)
		return err

	case *events.PlaylistDeleted:
		if _, err := tx.Exec(ctx,
			`UPDATE playlists SET deleted_at = $3
			 WHERE user_id = $1 AND playlist_id = $2 AND deleted_at IS NULL`,
			userID, e.PlaylistID, env.RecordedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM playlist_items WHERE user_id = $1 AND playlist_id = $2`,
			userID, e.PlaylistID,
		)
		return err

	case *events.PlaylistVisibilityChanged:
		_, err := tx.Exec(ctx,
			`UPDATE playlists SET is_public = $3
			 WHERE user_id = $1 AND playlist_id = $2`,
			userID, e.PlaylistID, e.IsPublic,
		)
		return err

	case *events.EpisodeSaved:
		// The saves path may precede an explicit PlaylistCreated; materialize
		// the playlist row so the item has a parent.
		if _, err := tx.Exec(ctx,
			`INSERT INTO playlists (user_id, playlist_id, name, description, is_public, deleted_at)
			 VALUES ($1, $2, 'Saved Episodes', '', FALSE, NULL)
			 ON CONFLICT (user_id, playlist_id) DO NOTHING`,
			userID, e.PlaylistID,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO playlist_items (user_id, playlist_id, feed, item, item_title, feed_title, position)
			 VALUES ($1, $2, $3, $4, $5, $6,
			   COALESCE((SELECT MAX(position) + 1 FROM playlist_items
			             WHERE user_id = $1 AND playlist_id = $2), 0))
			 ON CONFLICT (user_id, playlist_id, feed, item) DO NOTHING`,
			userID, e.PlaylistID, e.Feed, e.Item, e.ItemTitle, e.FeedTitle,
		)
		return err

	case *events.EpisodeUnsaved:
		_, err := tx.Exec(ctx,
			`DELETE FROM playlist_items
			 WHERE user_id = $1 AND playlist_id = $2 AND feed = $3 AND item = $4`,
			userID, e.PlaylistID, e.Feed, e.Item,
		)
		return err

	case *events.PlaylistReordered:
		for idx, ref := range e.ItemOrder {
			if _, err := tx.Exec(ctx,
				`UPDATE playlist_items SET position = $5
				 WHERE user_id = $1 AND playlist_id = $2 AND feed = $3 AND item = $4`,
				userID, e.PlaylistID, ref.Feed, ref.Item, idx,
			); err != nil {
				return err
			}
		}
		return nil

	case *events.UserCheckpoint:
		if _, err := tx.Exec(ctx,
			`DELETE FROM playlist_items WHERE user_id = $1`, userID,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM playlists WHERE user_id = $1`, userID,
		); err != nil {
			return err
		}
		for id, pl := range e.Playlists {
			if _, err := tx.Exec(ctx,
				`INSERT INTO playlists (user_id, playlist_id, name, description, is_public, deleted_at)
				 VALUES ($1, $2, $3, $4, $5, NULL)`,
				userID, id, pl.Name, pl.Description, pl.IsPublic,
			); err != nil {
				return err
			}
			for idx, ref := range pl.Items {
				if _, err := tx.Exec(ctx,
					`INSERT INTO playlist_items (user_id, playlist_id, feed, item, item_title, feed_title, position)
					 VALUES ($1, $2, $3, $4, '', '', $5)`,
					userID, id, ref.Feed, ref.Item, idx,
				); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return nil
}
