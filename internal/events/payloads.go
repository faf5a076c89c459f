// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package events

import "time"

// Event type discriminators. These are the wire names stored in the events
// table; they never change once events carrying them have been appended.
const (
	TypeUserSubscribed              = "UserSubscribed"
	TypeUserUnsubscribed            = "UserUnsubscribed"
	TypePlayRecorded                = "PlayRecorded"
	TypePositionUpdated             = "PositionUpdated"
	TypeEpisodeSaved                = "EpisodeSaved"
	TypeEpisodeUnsaved              = "EpisodeUnsaved"
	TypeEpisodeShared               = "EpisodeShared"
	TypePrivacyChanged              = "PrivacyChanged"
	TypeEventsRemoved               = "EventsRemoved"
	TypePlaylistCreated             = "PlaylistCreated"
	TypePlaylistUpdated             = "PlaylistUpdated"
	TypePlaylistDeleted             = "PlaylistDeleted"
	TypePlaylistReordered           = "PlaylistReordered"
	TypePlaylistVisibilityChanged   = "PlaylistVisibilityChanged"
	TypeCollectionCreated           = "CollectionCreated"
	TypeCollectionUpdated           = "CollectionUpdated"
	TypeCollectionDeleted           = "CollectionDeleted"
	TypeCollectionVisibilityChanged = "CollectionVisibilityChanged"
	TypeFeedAddedToCollection       = "FeedAddedToCollection"
	TypeFeedRemovedFromCollection   = "FeedRemovedFromCollection"
	TypeCollectionFeedReordered     = "CollectionFeedReordered"
	TypeUserCheckpoint              = "UserCheckpoint"
	TypePopularityRecalculated      = "PopularityRecalculated"
)

// Feeds and items are opaque base64 keys: a feed key encodes the RSS feed
// URL, an item key encodes "<guid>,<enclosure_url>".

// UserSubscribed records a subscription to a feed. Re-subscribing an already
// subscribed feed re-emits this event with a fresh SubscribedAt.
type UserSubscribed struct {
	Feed         string    `json:"feed"`
	RSSSourceID  string    `json:"rss_source_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

func (*UserSubscribed) EventType() string { return TypeUserSubscribed }

// UserUnsubscribed records an unsubscription from a feed.
type UserUnsubscribed struct {
	Feed           string    `json:"feed"`
	UnsubscribedAt time.Time `json:"unsubscribed_at"`
}

func (*UserUnsubscribed) EventType() string { return TypeUserUnsubscribed }

// PlayRecorded records a play of an episode with its playback position.
type PlayRecorded struct {
	Feed      string    `json:"feed"`
	Item      string    `json:"item"`
	Position  int64     `json:"position"`
	Played    bool      `json:"played"`
	Timestamp time.Time `json:"timestamp"`
}

func (*PlayRecorded) EventType() string { return TypePlayRecorded }

// PositionUpdated records a playback position change without a play.
type PositionUpdated struct {
	Feed      string    `json:"feed"`
	Item      string    `json:"item"`
	Position  int64     `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

func (*PositionUpdated) EventType() string { return TypePositionUpdated }

// EpisodeSaved records an episode saved to a playlist. Titles are denormalized
// into the payload so the playlists projection needs no feed lookups.
type EpisodeSaved struct {
	PlaylistID string `json:"playlist_id"`
	Feed       string `json:"feed"`
	Item       string `json:"item"`
	ItemTitle  string `json:"item_title,omitempty"`
	FeedTitle  string `json:"feed_title,omitempty"`
}

func (*EpisodeSaved) EventType() string { return TypeEpisodeSaved }

// EpisodeUnsaved records an episode removed from a playlist.
type EpisodeUnsaved struct {
	PlaylistID string `json:"playlist_id"`
	Feed       string `json:"feed"`
	Item       string `json:"item"`
}

func (*EpisodeUnsaved) EventType() string { return TypeEpisodeUnsaved }

// EpisodeShared records an episode shared by the user.
type EpisodeShared struct {
	Feed string `json:"feed"`
	Item string `json:"item"`
}

func (*EpisodeShared) EventType() string { return TypeEpisodeShared }

// PrivacyChanged sets the effective privacy at one of three specificity
// levels: global (feed and item empty), per-feed (item empty), or per-item.
type PrivacyChanged struct {
	Privacy Privacy `json:"privacy"`
	Feed    string  `json:"feed,omitempty"`
	Item    string  `json:"item,omitempty"`
}

func (*PrivacyChanged) EventType() string { return TypePrivacyChanged }

// EventsRemoved requests bulk removal of this user's rows from the public
// feed, scoped by the optional feed/item filters.
type EventsRemoved struct {
	Feed string `json:"feed,omitempty"`
	Item string `json:"item,omitempty"`
}

func (*EventsRemoved) EventType() string { return TypeEventsRemoved }

// PlaylistCreated records a new playlist.
type PlaylistCreated struct {
	PlaylistID  string `json:"playlist_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public"`
}

func (*PlaylistCreated) EventType() string { return TypePlaylistCreated }

// PlaylistUpdated records a rename or description change.
type PlaylistUpdated struct {
	PlaylistID  string `json:"playlist_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (*PlaylistUpdated) EventType() string { return TypePlaylistUpdated }

// PlaylistDeleted records a playlist deletion.
type PlaylistDeleted struct {
	PlaylistID string `json:"playlist_id"`
}

func (*PlaylistDeleted) EventType() string { return TypePlaylistDeleted }

// PlaylistItemRef identifies one entry of a playlist.
type PlaylistItemRef struct {
	Feed string `json:"feed"`
	Item string `json:"item"`
}

// PlaylistReordered carries the full resulting item order so that applying
// the event needs no knowledge of the previous order.
type PlaylistReordered struct {
	PlaylistID string            `json:"playlist_id"`
	ItemOrder  []PlaylistItemRef `json:"item_order"`
}

func (*PlaylistReordered) EventType() string { return TypePlaylistReordered }

// PlaylistVisibilityChanged toggles a playlist between public and private.
type PlaylistVisibilityChanged struct {
	PlaylistID string `json:"playlist_id"`
	IsPublic   bool   `json:"is_public"`
}

func (*PlaylistVisibilityChanged) EventType() string { return TypePlaylistVisibilityChanged }

// CollectionCreated records a new collection. Exactly one collection per user
// may carry IsDefault=true; the default collection is created implicitly on
// first subscription.
type CollectionCreated struct {
	CollectionID string `json:"collection_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	IsDefault    bool   `json:"is_default"`
	IsPublic     bool   `json:"is_public"`
}

func (*CollectionCreated) EventType() string { return TypeCollectionCreated }

// CollectionUpdated records title/description/color changes.
type CollectionUpdated struct {
	CollectionID string `json:"collection_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
}

func (*CollectionUpdated) EventType() string { return TypeCollectionUpdated }

// CollectionDeleted records a collection deletion. The default collection is
// never deleted.
type CollectionDeleted struct {
	CollectionID string `json:"collection_id"`
}

func (*CollectionDeleted) EventType() string { return TypeCollectionDeleted }

// CollectionVisibilityChanged toggles a collection between public and private.
type CollectionVisibilityChanged struct {
	CollectionID string `json:"collection_id"`
	IsPublic     bool   `json:"is_public"`
}

func (*CollectionVisibilityChanged) EventType() string { return TypeCollectionVisibilityChanged }

// FeedAddedToCollection records a subscribed feed added to a collection.
type FeedAddedToCollection struct {
	CollectionID string `json:"collection_id"`
	Feed         string `json:"feed"`
}

func (*FeedAddedToCollection) EventType() string { return TypeFeedAddedToCollection }

// FeedRemovedFromCollection records a feed removed from a collection.
type FeedRemovedFromCollection struct {
	CollectionID string `json:"collection_id"`
	Feed         string `json:"feed"`
}

func (*FeedRemovedFromCollection) EventType() string { return TypeFeedRemovedFromCollection }

// CollectionFeedReordered carries the full resulting feed order, like
// PlaylistReordered.
type CollectionFeedReordered struct {
	CollectionID string   `json:"collection_id"`
	Feed         string   `json:"feed"`
	FeedOrder    []string `json:"feed_order"`
}

func (*CollectionFeedReordered) EventType() string { return TypeCollectionFeedReordered }

// Checkpoint payload sub-structures. These mirror the aggregate state; the
// checkpoint REPLACES prior state on apply, so every map must be present
// (exhaustive), even when empty.

// CheckpointSubscription is one subscription entry in a checkpoint.
type CheckpointSubscription struct {
	RSSSourceID    string     `json:"rss_source_id"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

// CheckpointPlayStatus is one play-status entry in a checkpoint.
type CheckpointPlayStatus struct {
	Feed      string    `json:"feed"`
	Position  int64     `json:"position"`
	Played    bool      `json:"played"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointPlaylist is one playlist in a checkpoint.
type CheckpointPlaylist struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	IsPublic    bool              `json:"is_public"`
	Items       []PlaylistItemRef `json:"items"`
}

// CheckpointCollection is one collection in a checkpoint.
type CheckpointCollection struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	IsDefault   bool     `json:"is_default"`
	IsPublic    bool     `json:"is_public"`
	FeedIDs     []string `json:"feed_ids"`
}

// CheckpointPrivacy is one privacy rule in a checkpoint. Empty Feed/Item
// denote the coarser specificity levels.
type CheckpointPrivacy struct {
	Feed    string  `json:"feed,omitempty"`
	Item    string  `json:"item,omitempty"`
	Privacy Privacy `json:"privacy"`
}

// UserCheckpoint summarizes the full aggregate state at its version. Applying
// it replaces the state wholesale, which authorizes the snapshot worker to
// delete all earlier raw events of the stream.
type UserCheckpoint struct {
	Subscriptions map[string]CheckpointSubscription `json:"subscriptions"`
	PlayStatuses  map[string]CheckpointPlayStatus   `json:"play_statuses"`
	Playlists     map[string]CheckpointPlaylist     `json:"playlists"`
	Collections   map[string]CheckpointCollection   `json:"collections"`
	Privacy       []CheckpointPrivacy               `json:"privacy"`
	TakenAt       time.Time                         `json:"taken_at"`
}

func (*UserCheckpoint) EventType() string { return TypeUserCheckpoint }

// Exhaustive reports whether every state section is present. Non-exhaustive
// checkpoints are rejected before append; a merge semantic is not supported.
func (c *UserCheckpoint) Exhaustive() bool {
	return c.Subscriptions != nil && c.PlayStatuses != nil &&
		c.Playlists != nil && c.Collections != nil && c.Privacy != nil
}

// FeedCounters carries one feed's popularity counters at recalculation time.
type FeedCounters struct {
	Feed  string `json:"feed"`
	Score int64  `json:"score"`
	Plays int64  `json:"plays"`
	Likes int64  `json:"likes"`
}

// PopularityRecalculated is emitted by the snapshot worker each cycle for
// feeds whose counters changed. Only the popularity projector consumes it,
// rolling current counters into the *_previous columns used for trending
// deltas.
type PopularityRecalculated struct {
	Feeds          []FeedCounters `json:"feeds"`
	RecalculatedAt time.Time      `json:"recalculated_at"`
}

func (*PopularityRecalculated) EventType() string { return TypePopularityRecalculated }
