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

// SubscriptionsProjector maintains the subscriptions read model, one row per
// (user, feed) upserted in place.
type SubscriptionsProjector struct{}

func (SubscriptionsProjector) Name() string { return "subscriptions" }

func (SubscriptionsProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypeUserSubscribed, events.TypeUserUnsubscribed, events.TypeUserCheckpoint:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("subscriptions: decode %d: %w", env.GlobalPosition, err))
	}

	switch e := p.(type) {
	case *events.UserSubscribed:
		_, err := tx.Exec(ctx,
			`INSERT INTO subscriptions (user_id, feed, rss_source_id, subscribed_at, unsubscribed_at)
			 VALUES ($1, $2, $3, $4, NULL)
			 ON CONFLICT (user_id, feed) DO UPDATE SET
			   rss_source_id = EXCLUDED.rss_source_id,
			   subscribed_at = EXCLUDED.subscribed_at,
			   unsubscribed_at = NULL`,
			env.StreamID, e.Feed, e.RSSSourceID, e.SubscribedAt,
		)
		return err

	case *events.UserUnsubscribed:
		_, err := tx.Exec(ctx,
			`UPDATE subscriptions SET unsubscribed_at = $3
			 WHERE user_id = $1 AND feed = $2`,
			env.StreamID, e.Feed, e.UnsubscribedAt,
		)
		return err

	case *events.UserCheckpoint:
		// A checkpoint is authoritative for which feeds exist, but it does not
		// carry feed_title, which the RSS enrichment path fills in out of
		// band. Upsert per feed and prune the absentees so titles survive
		// compaction.
		feeds := make([]string, 0, len(e.Subscriptions))
		for feed, sub := range e.Subscriptions {
			feeds = append(feeds, feed)
			if _, err := tx.Exec(ctx,
				`INSERT INTO subscriptions (user_id, feed, rss_source_id, subscribed_at, unsubscribed_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (user_id, feed) DO UPDATE SET
				   rss_source_id = EXCLUDED.rss_source_id,
				   subscribed_at = EXCLUDED.subscribed_at,
				   unsubscribed_at = EXCLUDED.unsubscribed_at`,
				env.StreamID, feed, sub.RSSSourceID, sub.SubscribedAt, sub.UnsubscribedAt,
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM subscriptions WHERE user_id = $1 AND feed <> ALL($2)`,
			env.StreamID, feeds,
		)
		return err
	}
	return nil
}
