// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/podsync/internal/events"
)

// PrivacyRules holds the up-to-three rules that can govern one (feed, item)
// pair. An empty value means no rule at that specificity.
type PrivacyRules struct {
	Item   events.Privacy // rule with feed and item set
	Feed   events.Privacy // rule with feed set, item empty
	Global events.Privacy // rule with both empty
}

// EffectivePrivacy resolves the matrix: the most specific rule wins, and a
// user with no rules at all is public.
func EffectivePrivacy(r PrivacyRules) events.Privacy {
	switch {
	case r.Item != "":
		return r.Item
	case r.Feed != "":
		return r.Feed
	case r.Global != "":
		return r.Global
	default:
		return events.PrivacyPublic
	}
}

// Visible reports whether an event at this privacy level belongs in the
// public feed. The public/anonymous distinction is applied at query time;
// both levels store the user id literally.
func Visible(p events.Privacy) bool {
	return p == events.PrivacyPublic || p == events.PrivacyAnonymous
}

// loadRules fetches the applicable user_privacy rows for one (feed, item).
func loadRules(ctx context.Context, tx pgx.Tx, userID, feed, item string) (PrivacyRules, error) {
	rows, err := tx.Query(ctx,
		`SELECT feed, item, privacy FROM user_privacy
		 WHERE user_id = $1
		   AND ((feed = $2 AND item = $3) OR (feed = $2 AND item = '') OR (feed = '' AND item = ''))`,
		userID, feed, item,
	)
	if err != nil {
		return PrivacyRules{}, err
	}
	defer rows.Close()

	var r PrivacyRules
	for rows.Next() {
		var f, i string
		var p events.Privacy
		if err := rows.Scan(&f, &i, &p); err != nil {
			return PrivacyRules{}, err
		}
		switch {
		case f != "" && i != "":
			r.Item = p
		case f != "":
			r.Feed = p
		default:
			r.Global = p
		}
	}
	return r, rows.Err()
}
