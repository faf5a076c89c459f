// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package aggregate holds the per-user state machine: in-memory state
// rebuilt by replaying the user's event stream, pure command handlers that
// turn (state, command) into new events, and total apply functions that
// advance the state. One aggregate is the unit of consistency; everything
// here is CPU-only and free of I/O.
package aggregate

import (
	"time"

	"github.com/tomtom215/podsync/internal/events"
)

// Subscription is the in-memory record of one feed subscription.
type Subscription struct {
	RSSSourceID    string
	SubscribedAt   time.Time
	UnsubscribedAt *time.Time
}

// Active reports whether the subscription is current: never unsubscribed, or
// re-subscribed after the last unsubscription.
func (s Subscription) Active() bool {
	return s.UnsubscribedAt == nil || s.SubscribedAt.After(*s.UnsubscribedAt)
}

// PlayStatus is the in-memory playback state of one episode.
type PlayStatus struct {
	Feed      string
	Position  int64
	Played    bool
	UpdatedAt time.Time
}

// Playlist is the in-memory record of one playlist.
type Playlist struct {
	Name        string
	Description string
	IsPublic    bool
	Items       []events.PlaylistItemRef
}

// Collection is the in-memory record of one collection. FeedIDs is ordered
// and duplicate-free.
type Collection struct {
	Title       string
	Description string
	Color       string
	IsDefault   bool
	IsPublic    bool
	FeedIDs     []string
}

// PrivacyKey addresses one privacy rule. Empty Feed and Item denote the
// user's global default; empty Item a per-feed rule; both set a per-item
// rule.
type PrivacyKey struct {
	Feed string
	Item string
}

// State is the full in-memory aggregate for one user. It is owned
// exclusively by whichever goroutine holds the per-stream lock.
type State struct {
	UserID        string
	Subscriptions map[string]Subscription       // feed -> subscription
	PlayStatuses  map[string]PlayStatus         // item -> status
	Playlists     map[string]Playlist           // playlist_id -> playlist
	Collections   map[string]Collection         // collection_id -> collection
	Privacy       map[PrivacyKey]events.Privacy // rule -> level

	// Version is the stream version of the last applied event; it equals the
	// number of events ever applied to this aggregate.
	Version int64
}

// NewState returns an empty aggregate for a user.
func NewState(userID string) *State {
	return &State{
		UserID:        userID,
		Subscriptions: make(map[string]Subscription),
		PlayStatuses:  make(map[string]PlayStatus),
		Playlists:     make(map[string]Playlist),
		Collections:   make(map[string]Collection),
		Privacy:       make(map[PrivacyKey]events.Privacy),
	}
}

// Clone returns a deep copy of the state. Handlers that simulate a batch of
// subcommands mutate the copy instead of the cached aggregate.
func (s *State) Clone() *State {
	c := &State{
		UserID:        s.UserID,
		Subscriptions: make(map[string]Subscription, len(s.Subscriptions)),
		PlayStatuses:  make(map[string]PlayStatus, len(s.PlayStatuses)),
		Playlists:     make(map[string]Playlist, len(s.Playlists)),
		Collections:   make(map[string]Collection, len(s.Collections)),
		Privacy:       make(map[PrivacyKey]events.Privacy, len(s.Privacy)),
		Version:       s.Version,
	}
	for feed, sub := range s.Subscriptions {
		if sub.UnsubscribedAt != nil {
			t := *sub.UnsubscribedAt
			sub.UnsubscribedAt = &t
		}
		c.Subscriptions[feed] = sub
	}
	for item, st := range s.PlayStatuses {
		c.PlayStatuses[item] = st
	}
	for id, pl := range s.Playlists {
		pl.Items = append([]events.PlaylistItemRef(nil), pl.Items...)
		c.Playlists[id] = pl
	}
	for id, col := range s.Collections {
		col.FeedIDs = append([]string(nil), col.FeedIDs...)
		c.Collections[id] = col
	}
	for k, v := range s.Privacy {
		c.Privacy[k] = v
	}
	return c
}

// IsSubscribed reports whether the feed is currently subscribed.
func (s *State) IsSubscribed(feed string) bool {
	sub, ok := s.Subscriptions[feed]
	return ok && sub.Active()
}

// DefaultCollectionID returns the id of the default collection, or "" when
// none exists yet.
func (s *State) DefaultCollectionID() string {
	for id, c := range s.Collections {
		if c.IsDefault {
			return id
		}
	}
	return ""
}

// collectionFeedIndex returns the position of feed in the collection order,
// or -1.
func collectionFeedIndex(c Collection, feed string) int {
	for i, f := range c.FeedIDs {
		if f == feed {
			return i
		}
	}
	return -1
}

// playlistItemIndex returns the position of (feed, item) in the playlist, or -1.
func playlistItemIndex(p Playlist, feed, item string) int {
	for i, ref := range p.Items {
		if ref.Feed == feed && ref.Item == item {
			return i
		}
	}
	return -1
}

// moveString moves the element at from to position to, preserving the
// relative order of everything else.
func moveString(list []string, from, to int) []string {
	v := list[from]
	rest := make([]string, 0, len(list)-1)
	rest = append(rest, list[:from]...)
	rest = append(rest, list[from+1:]...)
	result := make([]string, 0, len(list))
	result = append(result, rest[:to]...)
	result = append(result, v)
	result = append(result, rest[to:]...)
	return result
}

// moveItemRef is moveString for playlist item references.
func moveItemRef(list []events.PlaylistItemRef, from, to int) []events.PlaylistItemRef {
	v := list[from]
	rest := make([]events.PlaylistItemRef, 0, len(list)-1)
	rest = append(rest, list[:from]...)
	rest = append(rest, list[from+1:]...)
	result := make([]events.PlaylistItemRef, 0, len(list))
	result = append(result, rest[:to]...)
	result = append(result, v)
	result = append(result, rest[to:]...)
	return result
}
