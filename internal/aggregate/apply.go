// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import (
	"github.com/tomtom215/podsync/internal/events"
)

// Apply advances the state by one event and bumps Version.
//
// Apply is total over well-formed events: an event referencing a missing
// entity (a visibility change for an unknown collection, an unsave from an
// unknown playlist) leaves the state unchanged, so replay never fails even
// across inconsistent history. The only error it can return is a
// *FatalApplyError for an undecodable payload, which the runtime treats as
// stream corruption.
func Apply(s *State, env events.Envelope) error {
	p, err := env.Decode()
	if err != nil {
		return &FatalApplyError{StreamID: env.StreamID, StreamVersion: env.StreamVersion, Err: err}
	}
	applyPayload(s, p)
	s.Version = env.StreamVersion
	return nil
}

// applyPayload mutates state for one decoded payload. It must stay free of
// validation: handlers validate, apply only records.
func applyPayload(s *State, p events.Payload) {
	switch e := p.(type) {
	case *events.UserSubscribed:
		s.Subscriptions[e.Feed] = Subscription{
			RSSSourceID:  e.RSSSourceID,
			SubscribedAt: e.SubscribedAt,
		}

	case *events.UserUnsubscribed:
		sub, ok := s.Subscriptions[e.Feed]
		if !ok {
			return
		}
		t := e.UnsubscribedAt
		sub.UnsubscribedAt = &t
		s.Subscriptions[e.Feed] = sub

	case *events.PlayRecorded:
		s.PlayStatuses[e.Item] = PlayStatus{
			Feed:      e.Feed,
			Position:  e.Position,
			Played:    e.Played,
			UpdatedAt: e.Timestamp,
		}

	case *events.PositionUpdated:
		st, ok := s.PlayStatuses[e.Item]
		if !ok {
			st = PlayStatus{Feed: e.Feed}
		}
		st.Position = e.Position
		st.UpdatedAt = e.Timestamp
		s.PlayStatuses[e.Item] = st

	case *events.EpisodeSaved:
		pl, ok := s.Playlists[e.PlaylistID]
		if !ok {
			// Saves may target a playlist that only exists implicitly (the
			// device-side "saved episodes" list); materialize it private.
			pl = Playlist{Name: "Saved Episodes"}
		}
		if playlistItemIndex(pl, e.Feed, e.Item) < 0 {
			pl.Items = append(pl.Items, events.PlaylistItemRef{Feed: e.Feed, Item: e.Item})
		}
		s.Playlists[e.PlaylistID] = pl

	case *events.EpisodeUnsaved:
		pl, ok := s.Playlists[e.PlaylistID]
		if !ok {
			return
		}
		if i := playlistItemIndex(pl, e.Feed, e.Item); i >= 0 {
			pl.Items = append(pl.Items[:i], pl.Items[i+1:]...)
			s.Playlists[e.PlaylistID] = pl
		}

	case *events.EpisodeShared:
		// Shares carry no aggregate state; they exist for projections.

	case *events.PrivacyChanged:
		s.Privacy[PrivacyKey{Feed: e.Feed, Item: e.Item}] = e.Privacy

	case *events.EventsRemoved:
		// Pure read-side mutation; no aggregate state.

	case *events.PlaylistCreated:
		s.Playlists[e.PlaylistID] = Playlist{
			Name:        e.Name,
			Description: e.Description,
			IsPublic:    e.IsPublic,
		}

	case *events.PlaylistUpdated:
		pl, ok := s.Playlists[e.PlaylistID]
		if !ok {
			return
		}
		pl.Name = e.Name
		pl.Description = e.Description
		s.Playlists[e.PlaylistID] = pl

	case *events.PlaylistDeleted:
		delete(s.Playlists, e.PlaylistID)

	case *events.PlaylistReordered:
		pl, ok := s.Playlists[e.PlaylistID]
		if !ok {
			return
		}
		pl.Items = append([]events.PlaylistItemRef(nil), e.ItemOrder...)
		s.Playlists[e.PlaylistID] = pl

	case *events.PlaylistVisibilityChanged:
		pl, ok := s.Playlists[e.PlaylistID]
		if !ok {
			return
		}
		pl.IsPublic = e.IsPublic
		s.Playlists[e.PlaylistID] = pl

	case *events.CollectionCreated:
		s.Collections[e.CollectionID] = Collection{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
			IsDefault:   e.IsDefault,
			IsPublic:    e.IsPublic,
		}

	case *events.CollectionUpdated:
		c, ok := s.Collections[e.CollectionID]
		if !ok {
			return
		}
		c.Title = e.Title
		c.Description = e.Description
		c.Color = e.Color
		s.Collections[e.CollectionID] = c

	case *events.CollectionDeleted:
		delete(s.Collections, e.CollectionID)

	case *events.CollectionVisibilityChanged:
		c, ok := s.Collections[e.CollectionID]
		if !ok {
			return
		}
		c.IsPublic = e.IsPublic
		s.Collections[e.CollectionID] = c

	case *events.FeedAddedToCollection:
		c, ok := s.Collections[e.CollectionID]
		if !ok {
			return
		}
		if collectionFeedIndex(c, e.Feed) < 0 {
			c.FeedIDs = append(c.FeedIDs, e.Feed)
			s.Collections[e.CollectionID] = c
		}

	case *events.FeedRemovedFromCollection:
		c, ok := s.Collections[e.CollectionID]
		if !ok {
			return
		}
		if i := collectionFeedIndex(c, e.Feed); i >= 0 {
			c.FeedIDs = append(c.FeedIDs[:i], c.FeedIDs[i+1:]...)
			s.Collections[e.CollectionID] = c
		}

	case *events.CollectionFeedReordered:
		c, ok := s.Collections[e.CollectionID]
		if !ok {
			return
		}
		c.FeedIDs = append([]string(nil), e.FeedOrder...)
		s.Collections[e.CollectionID] = c

	case *events.UserCheckpoint:
		restoreCheckpoint(s, e)

	case *events.PopularityRecalculated:
		// Worker-emitted; consumed by the popularity projector only.
	}
}

// restoreCheckpoint REPLACES the aggregate state with the checkpoint
// contents. Checkpoints are exhaustive by construction; a missing section in
// a legacy payload restores as empty rather than merging.
func restoreCheckpoint(s *State, cp *events.UserCheckpoint) {
	s.Subscriptions = make(map[string]Subscription, len(cp.Subscriptions))
	for feed, sub := range cp.Subscriptions {
		s.Subscriptions[feed] = Subscription{
			RSSSourceID:    sub.RSSSourceID,
			SubscribedAt:   sub.SubscribedAt,
			UnsubscribedAt: sub.UnsubscribedAt,
		}
	}

	s.PlayStatuses = make(map[string]PlayStatus, len(cp.PlayStatuses))
	for item, st := range cp.PlayStatuses {
		s.PlayStatuses[item] = PlayStatus{
			Feed:      st.Feed,
			Position:  st.Position,
			Played:    st.Played,
			UpdatedAt: st.UpdatedAt,
		}
	}

	s.Playlists = make(map[string]Playlist, len(cp.Playlists))
	for id, pl := range cp.Playlists {
		s.Playlists[id] = Playlist{
			Name:        pl.Name,
			Description: pl.Description,
			IsPublic:    pl.IsPublic,
			Items:       append([]events.PlaylistItemRef(nil), pl.Items...),
		}
	}

	s.Collections = make(map[string]Collection, len(cp.Collections))
	for id, c := range cp.Collections {
		s.Collections[id] = Collection{
			Title:       c.Title,
			Description: c.Description,
			Color:       c.Color,
			IsDefault:   c.IsDefault,
			IsPublic:    c.IsPublic,
			FeedIDs:     append([]string(nil), c.FeedIDs...),
		}
	}

	s.Privacy = make(map[PrivacyKey]events.Privacy, len(cp.Privacy))
	for _, rule := range cp.Privacy {
		s.Privacy[PrivacyKey{Feed: rule.Feed, Item: rule.Item}] = rule.Privacy
	}
}
