// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import (
	"time"

	"github.com/tomtom215/podsync/internal/events"
)

// Command is implemented by every command executable against a user
// aggregate. The name is the stable identifier used by the handler table
// and in metrics and logs.
type Command interface {
	CommandName() string
}

// Command names.
const (
	CmdSubscribe                  = "subscribe"
	CmdUnsubscribe                = "unsubscribe"
	CmdRecordPlay                 = "record_play"
	CmdUpdatePosition             = "update_position"
	CmdSaveEpisode                = "save_episode"
	CmdUnsaveEpisode              = "unsave_episode"
	CmdShareEpisode               = "share_episode"
	CmdChangePrivacy              = "change_privacy"
	CmdRemoveEvents               = "remove_events"
	CmdCreatePlaylist             = "create_playlist"
	CmdUpdatePlaylist             = "update_playlist"
	CmdDeletePlaylist             = "delete_playlist"
	CmdReorderPlaylist            = "reorder_playlist"
	CmdChangePlaylistVisibility   = "change_playlist_visibility"
	CmdCreateCollection           = "create_collection"
	CmdUpdateCollection           = "update_collection"
	CmdDeleteCollection           = "delete_collection"
	CmdChangeCollectionVisibility = "change_collection_visibility"
	CmdAddFeedToCollection        = "add_feed_to_collection"
	CmdRemoveFeedFromCollection   = "remove_feed_from_collection"
	CmdReorderCollectionFeed      = "reorder_collection_feed"
	CmdSnapshot                   = "snapshot"
	CmdSyncUserData               = "sync_user_data"
)

// Subscribe subscribes the user to a feed. Idempotent on already-subscribed:
// it re-emits UserSubscribed with a fresh timestamp.
type Subscribe struct {
	Feed        string
	RSSSourceID string
}

func (Subscribe) CommandName() string { return CmdSubscribe }

// Unsubscribe removes a current subscription.
type Unsubscribe struct {
	Feed string
}

func (Unsubscribe) CommandName() string { return CmdUnsubscribe }

// RecordPlay records a play with its playback position in seconds.
type RecordPlay struct {
	Feed      string
	Item      string
	Position  int64
	Played    bool
	Timestamp time.Time
}

func (RecordPlay) CommandName() string { return CmdRecordPlay }

// UpdatePosition updates the playback position without recording a play.
type UpdatePosition struct {
	Feed      string
	Item      string
	Position  int64
	Timestamp time.Time
}

func (UpdatePosition) CommandName() string { return CmdUpdatePosition }

// SaveEpisode saves an episode into a playlist.
type SaveEpisode struct {
	PlaylistID string
	Feed       string
	Item       string
	ItemTitle  string
	FeedTitle  string
}

func (SaveEpisode) CommandName() string { return CmdSaveEpisode }

// UnsaveEpisode removes a saved episode from a playlist.
type UnsaveEpisode struct {
	PlaylistID string
	Feed       string
	Item       string
}

func (UnsaveEpisode) CommandName() string { return CmdUnsaveEpisode }

// ShareEpisode records a share.
type ShareEpisode struct {
	Feed string
	Item string
}

func (ShareEpisode) CommandName() string { return CmdShareEpisode }

// ChangePrivacy sets privacy at global, feed or item specificity.
type ChangePrivacy struct {
	Privacy events.Privacy
	Feed    string
	Item    string
}

func (ChangePrivacy) CommandName() string { return CmdChangePrivacy }

// RemoveEvents requests removal of this user's public event rows, optionally
// scoped to a feed and/or item.
type RemoveEvents struct {
	Feed string
	Item string
}

func (RemoveEvents) CommandName() string { return CmdRemoveEvents }

// CreatePlaylist creates a playlist. PlaylistID may be empty, in which case
// one is generated.
type CreatePlaylist struct {
	PlaylistID  string
	Name        string
	Description string
	IsPublic    bool
}

func (CreatePlaylist) CommandName() string { return CmdCreatePlaylist }

// UpdatePlaylist renames a playlist or changes its description.
type UpdatePlaylist struct {
	PlaylistID  string
	Name        string
	Description string
}

func (UpdatePlaylist) CommandName() string { return CmdUpdatePlaylist }

// DeletePlaylist deletes a playlist.
type DeletePlaylist struct {
	PlaylistID string
}

func (DeletePlaylist) CommandName() string { return CmdDeletePlaylist }

// ReorderPlaylist moves one item of a playlist to NewPosition.
type ReorderPlaylist struct {
	PlaylistID  string
	Feed        string
	Item        string
	NewPosition int
}

func (ReorderPlaylist) CommandName() string { return CmdReorderPlaylist }

// ChangePlaylistVisibility toggles a playlist public or private.
type ChangePlaylistVisibility struct {
	PlaylistID string
	IsPublic   bool
}

func (ChangePlaylistVisibility) CommandName() string { return CmdChangePlaylistVisibility }

// CreateCollection creates a collection. CollectionID may be empty, in which
// case one is generated.
type CreateCollection struct {
	CollectionID string
	Title        string
	Description  string
	Color        string
	IsDefault    bool
	IsPublic     bool
}

func (CreateCollection) CommandName() string { return CmdCreateCollection }

// UpdateCollection changes a collection's title, description or color.
type UpdateCollection struct {
	CollectionID string
	Title        string
	Description  string
	Color        string
}

func (UpdateCollection) CommandName() string { return CmdUpdateCollection }

// DeleteCollection deletes a non-default collection.
type DeleteCollection struct {
	CollectionID string
}

func (DeleteCollection) CommandName() string { return CmdDeleteCollection }

// ChangeCollectionVisibility toggles a collection public or private.
type ChangeCollectionVisibility struct {
	CollectionID string
	IsPublic     bool
}

func (ChangeCollectionVisibility) CommandName() string { return CmdChangeCollectionVisibility }

// AddFeedToCollection appends a currently subscribed feed to a collection.
// Adding a feed already present is a no-op success.
type AddFeedToCollection struct {
	CollectionID string
	Feed         string
}

func (AddFeedToCollection) CommandName() string { return CmdAddFeedToCollection }

// RemoveFeedFromCollection removes a feed from a collection.
type RemoveFeedFromCollection struct {
	CollectionID string
	Feed         string
}

func (RemoveFeedFromCollection) CommandName() string { return CmdRemoveFeedFromCollection }

// ReorderCollectionFeed moves a feed to NewPosition within the collection's
// order. NewPosition must be in [0, len(feed_ids)).
type ReorderCollectionFeed struct {
	CollectionID string
	Feed         string
	NewPosition  int
}

func (ReorderCollectionFeed) CommandName() string { return CmdReorderCollectionFeed }

// Snapshot is the system command emitted by the snapshot worker. It appends
// a UserCheckpoint summarizing the full current state.
type Snapshot struct{}

func (Snapshot) CommandName() string { return CmdSnapshot }

// SyncSubscription is one feed entry in a device sync document.
type SyncSubscription struct {
	Feed        string
	RSSSourceID string
	Subscribed  bool
}

// SyncPlayStatus is one play-status entry in a device sync document.
type SyncPlayStatus struct {
	Feed      string
	Item      string
	Position  int64
	Played    bool
	Timestamp time.Time
}

// SyncUserData reconciles a device-supplied state document against the
// aggregate, emitting the minimal set of subscription and play events. Used
// by devices returning from offline operation.
type SyncUserData struct {
	Subscriptions []SyncSubscription
	PlayStatuses  []SyncPlayStatus
}

func (SyncUserData) CommandName() string { return CmdSyncUserData }
