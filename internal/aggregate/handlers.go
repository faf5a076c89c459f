// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import (
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/podsync/internal/events"
)

// HandlerContext supplies the impure inputs a handler needs. Tests inject
// fixed clocks and id sequences; production uses DefaultHandlerContext.
type HandlerContext struct {
	Now   func() time.Time
	NewID func() string
}

// DefaultHandlerContext returns the production clock and id source.
// Timestamps are UTC at second precision, matching the wire format.
func DefaultHandlerContext() HandlerContext {
	return HandlerContext{
		Now:   func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		NewID: uuid.NewString,
	}
}

// DefaultCollectionTitle names the collection created implicitly on first
// subscription.
const DefaultCollectionTitle = "All Subscriptions"

type handlerFunc func(*State, Command, HandlerContext) ([]events.Payload, error)

// handlers is the per-type command table. Dispatching through it keeps the
// command surface explicit; an unregistered command is a caller error, not
// a panic.
var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		CmdSubscribe:                  handleSubscribe,
		CmdUnsubscribe:                handleUnsubscribe,
		CmdRecordPlay:                 handleRecordPlay,
		CmdUpdatePosition:             handleUpdatePosition,
		CmdSaveEpisode:                handleSaveEpisode,
		CmdUnsaveEpisode:              handleUnsaveEpisode,
		CmdShareEpisode:               handleShareEpisode,
		CmdChangePrivacy:              handleChangePrivacy,
		CmdRemoveEvents:               handleRemoveEvents,
		CmdCreatePlaylist:             handleCreatePlaylist,
		CmdUpdatePlaylist:             handleUpdatePlaylist,
		CmdDeletePlaylist:             handleDeletePlaylist,
		CmdReorderPlaylist:            handleReorderPlaylist,
		CmdChangePlaylistVisibility:   handleChangePlaylistVisibility,
		CmdCreateCollection:           handleCreateCollection,
		CmdUpdateCollection:           handleUpdateCollection,
		CmdDeleteCollection:           handleDeleteCollection,
		CmdChangeCollectionVisibility: handleChangeCollectionVisibility,
		CmdAddFeedToCollection:        handleAddFeedToCollection,
		CmdRemoveFeedFromCollection:   handleRemoveFeedFromCollection,
		CmdReorderCollectionFeed:      handleReorderCollectionFeed,
		CmdSnapshot:                   handleSnapshot,
		CmdSyncUserData:               handleSyncUserData,
	}
}

// Handle validates cmd against the current state and returns the events to
// append. It is a pure function of (state, command, context): it never
// mutates state and performs no I/O. Zero returned events is a valid
// success.
func Handle(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	h, ok := handlers[cmd.CommandName()]
	if !ok {
		return nil, Validation(CodeUnknownCommand)
	}
	return h(s, cmd, hc)
}

func handleSubscribe(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(Subscribe)
	now := hc.Now()

	out := []events.Payload{&events.UserSubscribed{
		Feed:         c.Feed,
		RSSSourceID:  c.RSSSourceID,
		SubscribedAt: now,
	}}

	// The first subscription materializes the default collection and places
	// the feed in it. Exactly one default exists from then on.
	if s.DefaultCollectionID() == "" {
		id := hc.NewID()
		out = append(out,
			&events.CollectionCreated{
				CollectionID: id,
				Title:        DefaultCollectionTitle,
				IsDefault:    true,
			},
			&events.FeedAddedToCollection{CollectionID: id, Feed: c.Feed},
		)
	}
	return out, nil
}

func handleUnsubscribe(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(Unsubscribe)
	if !s.IsSubscribed(c.Feed) {
		return nil, Validation(CodeNotSubscribed)
	}
	return []events.Payload{&events.UserUnsubscribed{
		Feed:           c.Feed,
		UnsubscribedAt: hc.Now(),
	}}, nil
}

func handleRecordPlay(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(RecordPlay)
	if c.Position < 0 {
		return nil, Validation(CodeInvalidPosition)
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = hc.Now()
	}
	return []events.Payload{&events.PlayRecorded{
		Feed:      c.Feed,
		Item:      c.Item,
		Position:  c.Position,
		Played:    c.Played,
		Timestamp: ts.UTC().Truncate(time.Second),
	}}, nil
}

func handleUpdatePosition(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(UpdatePosition)
	if c.Position < 0 {
		return nil, Validation(CodeInvalidPosition)
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = hc.Now()
	}
	return []events.Payload{&events.PositionUpdated{
		Feed:      c.Feed,
		Item:      c.Item,
		Position:  c.Position,
		Timestamp: ts.UTC().Truncate(time.Second),
	}}, nil
}

func handleSaveEpisode(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(SaveEpisode)
	if !s.IsSubscribed(c.Feed) {
		return nil, Validation(CodeFeedNotSubscribed)
	}
	return []events.Payload{&events.EpisodeSaved{
		PlaylistID: c.PlaylistID,
		Feed:       c.Feed,
		Item:       c.Item,
		ItemTitle:  c.ItemTitle,
		FeedTitle:  c.FeedTitle,
	}}, nil
}

func handleUnsaveEpisode(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(UnsaveEpisode)
	pl, ok := s.Playlists[c.PlaylistID]
	if !ok || playlistItemIndex(pl, c.Feed, c.Item) < 0 {
		return nil, Validation(CodeEpisodeNotSaved)
	}
	return []events.Payload{&events.EpisodeUnsaved{
		PlaylistID: c.PlaylistID,
		Feed:       c.Feed,
		Item:       c.Item,
	}}, nil
}

func handleShareEpisode(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ShareEpisode)
	return []events.Payload{&events.EpisodeShared{Feed: c.Feed, Item: c.Item}}, nil
}

func handleChangePrivacy(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ChangePrivacy)
	if !c.Privacy.Valid() {
		return nil, Validation(CodeInvalidPrivacy)
	}
	return []events.Payload{&events.PrivacyChanged{
		Privacy: c.Privacy,
		Feed:    c.Feed,
		Item:    c.Item,
	}}, nil
}

func handleRemoveEvents(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(RemoveEvents)
	return []events.Payload{&events.EventsRemoved{Feed: c.Feed, Item: c.Item}}, nil
}

func handleCreatePlaylist(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(CreatePlaylist)
	if c.Name == "" {
		return nil, Validation(CodeNameRequired)
	}
	id := c.PlaylistID
	if id == "" {
		id = hc.NewID()
	} else if _, exists := s.Playlists[id]; exists {
		return nil, Validation(CodePlaylistAlreadyExists)
	}
	return []events.Payload{&events.PlaylistCreated{
		PlaylistID:  id,
		Name:        c.Name,
		Description: c.Description,
		IsPublic:    c.IsPublic,
	}}, nil
}

func handleUpdatePlaylist(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(UpdatePlaylist)
	if _, ok := s.Playlists[c.PlaylistID]; !ok {
		return nil, Validation(CodePlaylistNotFound)
	}
	if c.Name == "" {
		return nil, Validation(CodeNameRequired)
	}
	return []events.Payload{&events.PlaylistUpdated{
		PlaylistID:  c.PlaylistID,
		Name:        c.Name,
		Description: c.Description,
	}}, nil
}

func handleDeletePlaylist(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(DeletePlaylist)
	if _, ok := s.Playlists[c.PlaylistID]; !ok {
		return nil, Validation(CodePlaylistNotFound)
	}
	return []events.Payload{&events.PlaylistDeleted{PlaylistID: c.PlaylistID}}, nil
}

func handleReorderPlaylist(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ReorderPlaylist)
	pl, ok := s.Playlists[c.PlaylistID]
	if !ok {
		return nil, Validation(CodePlaylistNotFound)
	}
	idx := playlistItemIndex(pl, c.Feed, c.Item)
	if idx < 0 {
		return nil, Validation(CodeEpisodeNotSaved)
	}
	if c.NewPosition < 0 || c.NewPosition >= len(pl.Items) {
		return nil, Validation(CodeInvalidPosition)
	}
	order := moveItemRef(pl.Items, idx, c.NewPosition)
	return []events.Payload{&events.PlaylistReordered{
		PlaylistID: c.PlaylistID,
		ItemOrder:  order,
	}}, nil
}

func handleChangePlaylistVisibility(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ChangePlaylistVisibility)
	if _, ok := s.Playlists[c.PlaylistID]; !ok {
		return nil, Validation(CodePlaylistNotFound)
	}
	return []events.Payload{&events.PlaylistVisibilityChanged{
		PlaylistID: c.PlaylistID,
		IsPublic:   c.IsPublic,
	}}, nil
}

func handleCreateCollection(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(CreateCollection)
	if c.Title == "" {
		return nil, Validation(CodeTitleRequired)
	}
	if c.IsDefault && s.DefaultCollectionID() != "" {
		return nil, Validation(CodeDefaultCollectionAlreadyExists)
	}
	id := c.CollectionID
	if id == "" {
		id = hc.NewID()
	}
	return []events.Payload{&events.CollectionCreated{
		CollectionID: id,
		Title:        c.Title,
		Description:  c.Description,
		Color:        c.Color,
		IsDefault:    c.IsDefault,
		IsPublic:     c.IsPublic,
	}}, nil
}

func handleUpdateCollection(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(UpdateCollection)
	if _, ok := s.Collections[c.CollectionID]; !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	if c.Title == "" {
		return nil, Validation(CodeTitleRequired)
	}
	return []events.Payload{&events.CollectionUpdated{
		CollectionID: c.CollectionID,
		Title:        c.Title,
		Description:  c.Description,
		Color:        c.Color,
	}}, nil
}

func handleDeleteCollection(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(DeleteCollection)
	col, ok := s.Collections[c.CollectionID]
	if !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	if col.IsDefault {
		return nil, Validation(CodeCannotDeleteDefaultCollection)
	}
	return []events.Payload{&events.CollectionDeleted{CollectionID: c.CollectionID}}, nil
}

func handleChangeCollectionVisibility(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ChangeCollectionVisibility)
	if _, ok := s.Collections[c.CollectionID]; !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	return []events.Payload{&events.CollectionVisibilityChanged{
		CollectionID: c.CollectionID,
		IsPublic:     c.IsPublic,
	}}, nil
}

func handleAddFeedToCollection(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(AddFeedToCollection)
	col, ok := s.Collections[c.CollectionID]
	if !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	if !s.IsSubscribed(c.Feed) {
		return nil, Validation(CodeFeedNotSubscribed)
	}
	if collectionFeedIndex(col, c.Feed) >= 0 {
		// Already present; success with nothing to record.
		return nil, nil
	}
	return []events.Payload{&events.FeedAddedToCollection{
		CollectionID: c.CollectionID,
		Feed:         c.Feed,
	}}, nil
}

func handleRemoveFeedFromCollection(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(RemoveFeedFromCollection)
	if _, ok := s.Collections[c.CollectionID]; !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	return []events.Payload{&events.FeedRemovedFromCollection{
		CollectionID: c.CollectionID,
		Feed:         c.Feed,
	}}, nil
}

func handleReorderCollectionFeed(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(ReorderCollectionFeed)
	col, ok := s.Collections[c.CollectionID]
	if !ok {
		return nil, Validation(CodeCollectionNotFound)
	}
	idx := collectionFeedIndex(col, c.Feed)
	if idx < 0 {
		return nil, Validation(CodeFeedNotInCollection)
	}
	if c.NewPosition < 0 || c.NewPosition >= len(col.FeedIDs) {
		return nil, Validation(CodeInvalidPosition)
	}
	order := moveString(col.FeedIDs, idx, c.NewPosition)
	return []events.Payload{&events.CollectionFeedReordered{
		CollectionID: c.CollectionID,
		Feed:         c.Feed,
		FeedOrder:    order,
	}}, nil
}

func handleSnapshot(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	cp := BuildCheckpoint(s, hc.Now())
	if !cp.Exhaustive() {
		// Cannot happen with BuildCheckpoint; guards against future edits
		// weakening the payload.
		return nil, Validation(CodeUnknownCommand)
	}
	return []events.Payload{cp}, nil
}

// handleSyncUserData reconciles a device state document by running the
// corresponding subcommands against a scratch copy of the state, so that
// later entries observe the effects of earlier ones (the first subscription
// in a batch still creates the default collection exactly once).
func handleSyncUserData(s *State, cmd Command, hc HandlerContext) ([]events.Payload, error) {
	c := cmd.(SyncUserData)
	scratch := s.Clone()

	var out []events.Payload

	run := func(sub Command) error {
		evs, err := Handle(scratch, sub, hc)
		if err != nil {
			return err
		}
		for _, p := range evs {
			applyPayload(scratch, p)
		}
		out = append(out, evs...)
		return nil
	}

	for _, sub := range c.Subscriptions {
		switch {
		case sub.Subscribed && !scratch.IsSubscribed(sub.Feed):
			if err := run(Subscribe{Feed: sub.Feed, RSSSourceID: sub.RSSSourceID}); err != nil {
				return nil, err
			}
		case !sub.Subscribed && scratch.IsSubscribed(sub.Feed):
			if err := run(Unsubscribe{Feed: sub.Feed}); err != nil {
				return nil, err
			}
		}
	}

	for _, ps := range c.PlayStatuses {
		cur, ok := scratch.PlayStatuses[ps.Item]
		switch {
		case !ok || cur.Played != ps.Played:
			if err := run(RecordPlay{
				Feed: ps.Feed, Item: ps.Item,
				Position: ps.Position, Played: ps.Played,
				Timestamp: ps.Timestamp,
			}); err != nil {
				return nil, err
			}
		case cur.Position != ps.Position:
			if err := run(UpdatePosition{
				Feed: ps.Feed, Item: ps.Item,
				Position:  ps.Position,
				Timestamp: ps.Timestamp,
			}); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}
