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

// CollectionsProjector maintains collections and their ordered feed
// memberships. Membership position is assigned max(position)+1 on first
// insert and rewritten wholesale by reorder events.
type CollectionsProjector struct{}

func (CollectionsProjector) Name() string { return "collections" }

func (CollectionsProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypeCollectionCreated, events.TypeCollectionUpdated,
		events.TypeCollectionDeleted, events.TypeCollectionVisibilityChanged,
		events.TypeFeedAddedToCollection, events.TypeFeedRemovedFromCollection,
		events.TypeCollectionFeedReordered, events.TypeUserCheckpoint:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("collections: decode %d: %w", env.GlobalPosition, err))
	}

	userID := env.StreamID
	switch e := p.(type) {
	case *events.CollectionCreated:
		_, err := tx.Exec(ctx,
			`INSERT INTO collections (user_id, collection_id, title, description, color, is_default, is_public)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (user_id, collection_id) DO UPDATE SET
			   title = EXCLUDED.title,
			   description = EXCLUDED.description,
			   color = EXCLUDED.color,
			   is_default = EXCLUDED.is_default,
			   is_public = EXCLUDED.is_public`,
			userID, e.CollectionID, e.Title, e.Description, e.Color, e.IsDefault, e.IsPublic,
		)
		return err

	case *events.CollectionUpdated:
		_, err := tx.Exec(ctx,
			`UPDATE collections SET title = $3, description = $4, color = $5
			 WHERE user_id = $1 AND collection_id = $2`,
			userID, e.CollectionID, e.Title, e.Description, e.Color,
		)
		return err

	case *events.CollectionDeleted:
		if _, err := tx.Exec(ctx,
			`DELETE FROM collection_subscriptions WHERE user_id = $1 AND collection_id = $2`,
			userID, e.CollectionID,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM collections WHERE user_id = $1 AND collection_id = $2`,
			userID, e.CollectionID,
		)
		return err

	case *events.CollectionVisibilityChanged:
		_, err := tx.Exec(ctx,
			`UPDATE collections SET is_public = $3
			 WHERE user_id = $1 AND collection_id = $2`,
			userID, e.CollectionID, e.IsPublic,
		)
		return err

	case *events.FeedAddedToCollection:
		_, err := tx.Exec(ctx,
			`INSERT INTO collection_subscriptions (user_id, collection_id, feed, position)
			 VALUES ($1, $2, $3,
			   COALESCE((SELECT MAX(position) + 1 FROM collection_subscriptions
			             WHERE collection_id = $2), 0))
			 ON CONFLICT (collection_id, feed) DO NOTHING`,
			userID, e.CollectionID, e.Feed,
		)
		return err

	case *events.FeedRemovedFromCollection:
		_, err := tx.Exec(ctx,
			`DELETE FROM collection_subscriptions
			 WHERE collection_id = $1 AND feed = $2`,
			e.CollectionID, e.Feed,
		)
		return err

	case *events.CollectionFeedReordered:
		// The event carries the full resulting order; write every index.
		for idx, feed := range e.FeedOrder {
			if _, err := tx.Exec(ctx,
				`UPDATE collection_subscriptions SET position = $3
				 WHERE collection_id = $1 AND feed = $2`,
				e.CollectionID, feed, idx,
			); err != nil {
				return err
			}
		}
		return nil

	case *events.UserCheckpoint:
		if _, err := tx.Exec(ctx,
			`DELETE FROM collection_subscriptions WHERE user_id = $1`, userID,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM collections WHERE user_id = $1`, userID,
		); err != nil {
			return err
		}
		for id, col := range e.Collections {
			if _, err := tx.Exec(ctx,
				`INSERT INTO collections (user_id, collection_id, title, description, color, is_default, is_public)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				userID, id, col.Title, col.Description, col.Color, col.IsDefault, col.IsPublic,
			); err != nil {
				return err
			}
			for idx, feed := range col.FeedIDs {
				if _, err := tx.Exec(ctx,
					`INSERT INTO collection_subscriptions (user_id, collection_id, feed, position)
					 VALUES ($1, $2, $3, $4)`,
					userID, id, feed, idx,
				); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return nil
}
