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

// PublicEventsProjector maintains the shared activity feed. Activity events
// land in public_events when the user's effective privacy for the (feed,
// item) pair is public or anonymous; privacy changes rewrite the affected
// rows in bulk.
type PublicEventsProjector struct{}

func (PublicEventsProjector) Name() string { return "public_events" }

func (PublicEventsProjector) Apply(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	switch env.Type {
	case events.TypeUserSubscribed, events.TypePlayRecorded,
		events.TypeEpisodeSaved, events.TypeEpisodeShared,
		events.TypePrivacyChanged, events.TypeEventsRemoved,
		events.TypeUserCheckpoint:
	default:
		return nil
	}

	p, err := env.Decode()
	if err != nil {
		return Fatal(fmt.Errorf("public_events: decode %d: %w", env.GlobalPosition, err))
	}

	userID := env.StreamID
	switch e := p.(type) {
	case *events.UserSubscribed:
		return insertPublicEvent(ctx, tx, env, e.Feed, "")
	case *events.PlayRecorded:
		return insertPublicEvent(ctx, tx, env, e.Feed, e.Item)
	case *events.EpisodeSaved:
		return insertPublicEvent(ctx, tx, env, e.Feed, e.Item)
	case *events.EpisodeShared:
		return insertPublicEvent(ctx, tx, env, e.Feed, e.Item)

	case *events.PrivacyChanged:
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_privacy (user_id, feed, item, privacy)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, feed, item) DO UPDATE SET privacy = EXCLUDED.privacy`,
			userID, e.Feed, e.Item, e.Privacy,
		); err != nil {
			return err
		}
		return rewritePublicEvents(ctx, tx, userID, e.Feed, e.Item)

	case *events.EventsRemoved:
		query := `DELETE FROM public_events WHERE user_id = $1`
		args := []any{userID}
		if e.Feed != "" {
			query += fmt.Sprintf(" AND feed = $%d", len(args)+1)
			args = append(args, e.Feed)
		}
		if e.Item != "" {
			query += fmt.Sprintf(" AND item = $%d", len(args)+1)
			args = append(args, e.Item)
		}
		_, err := tx.Exec(ctx, query, args...)
		return err

	case *events.UserCheckpoint:
		if _, err := tx.Exec(ctx,
			`DELETE FROM user_privacy WHERE user_id = $1`, userID,
		); err != nil {
			return err
		}
		for _, rule := range e.Privacy {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_privacy (user_id, feed, item, privacy)
				 VALUES ($1, $2, $3, $4)`,
				userID, rule.Feed, rule.Item, rule.Privacy,
			); err != nil {
				return err
			}
		}
		// Rules may have changed wholesale; re-evaluate everything the user
		// still has in the feed.
		return rewritePublicEvents(ctx, tx, userID, "", "")
	}
	return nil
}

// insertPublicEvent appends one activity row when the effective privacy
// allows it. The global position doubles as the primary key, making the
// insert idempotent under redelivery.
func insertPublicEvent(ctx context.Context, tx pgx.Tx, env events.Envelope, feed, item string) error {
	rules, err := loadRules(ctx, tx, env.StreamID, feed, item)
	if err != nil {
		return err
	}
	eff := EffectivePrivacy(rules)
	if !Visible(eff) {
		return nil
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO public_events (id, user_id, event_type, feed, item, privacy, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		env.GlobalPosition, env.StreamID, env.Type, feed, item, eff, env.RecordedAt,
	)
	return err
}

// rewritePublicEvents re-evaluates the user's feed rows within the given
// scope after a rule change: rows that became private disappear, the rest
// get their privacy column refreshed.
func rewritePublicEvents(ctx context.Context, tx pgx.Tx, userID, feed, item string) error {
	query := `SELECT DISTINCT feed, item FROM public_events WHERE user_id = $1`
	args := []any{userID}
	if feed != "" {
		query += fmt.Sprintf(" AND feed = $%d", len(args)+1)
		args = append(args, feed)
	}
	if item != "" {
		query += fmt.Sprintf(" AND item = $%d", len(args)+1)
		args = append(args, item)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	type pair struct{ feed, item string }
	var pairs []pair
	for rows.Next() {
		var pr pair
		if err := rows.Scan(&pr.feed, &pr.item); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, pr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, pr := range pairs {
		rules, err := loadRules(ctx, tx, userID, pr.feed, pr.item)
		if err != nil {
			return err
		}
		eff := EffectivePrivacy(rules)
		if !Visible(eff) {
			if _, err := tx.Exec(ctx,
				`DELETE FROM public_events WHERE user_id = $1 AND feed = $2 AND item = $3`,
				userID, pr.feed, pr.item,
			); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE public_events SET privacy = $4
			 WHERE user_id = $1 AND feed = $2 AND item = $3`,
			userID, pr.feed, pr.item, eff,
		); err != nil {
			return err
		}
	}
	return nil
}
