// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import (
	"time"

	"github.com/tomtom215/podsync/internal/events"
)

// BuildCheckpoint captures the full current state as an exhaustive
// UserCheckpoint payload. Applying the result to an empty aggregate yields
// state equal to s (snapshot fidelity), which is what authorizes deleting
// the raw events it summarizes.
func BuildCheckpoint(s *State, takenAt time.Time) *events.UserCheckpoint {
	cp := &events.UserCheckpoint{
		Subscriptions: make(map[string]events.CheckpointSubscription, len(s.Subscriptions)),
		PlayStatuses:  make(map[string]events.CheckpointPlayStatus, len(s.PlayStatuses)),
		Playlists:     make(map[string]events.CheckpointPlaylist, len(s.Playlists)),
		Collections:   make(map[string]events.CheckpointCollection, len(s.Collections)),
		Privacy:       make([]events.CheckpointPrivacy, 0, len(s.Privacy)),
		TakenAt:       takenAt.UTC().Truncate(time.Second),
	}

	for feed, sub := range s.Subscriptions {
		cp.Subscriptions[feed] = events.CheckpointSubscription{
			RSSSourceID:    sub.RSSSourceID,
			SubscribedAt:   sub.SubscribedAt,
			UnsubscribedAt: sub.UnsubscribedAt,
		}
	}

	for item, st := range s.PlayStatuses {
		cp.PlayStatuses[item] = events.CheckpointPlayStatus{
			Feed:      st.Feed,
			Position:  st.Position,
			Played:    st.Played,
			UpdatedAt: st.UpdatedAt,
		}
	}

	for id, pl := range s.Playlists {
		cp.Playlists[id] = events.CheckpointPlaylist{
			Name:        pl.Name,
			Description: pl.Description,
			IsPublic:    pl.IsPublic,
			Items:       append([]events.PlaylistItemRef{}, pl.Items...),
		}
	}

	for id, c := range s.Collections {
		cp.Collections[id] = events.CheckpointCollection{
			Title:       c.Title,
			Description: c.Description,
			Color:       c.Color,
			IsDefault:   c.IsDefault,
			IsPublic:    c.IsPublic,
			FeedIDs:     append([]string{}, c.FeedIDs...),
		}
	}

	for key, level := range s.Privacy {
		cp.Privacy = append(cp.Privacy, events.CheckpointPrivacy{
			Feed:    key.Feed,
			Item:    key.Item,
			Privacy: level,
		})
	}

	return cp
}
