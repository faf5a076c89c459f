// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/auth"
	"github.com/tomtom215/podsync/internal/events"
)

// commandResponse acknowledges an accepted command. StreamVersion is the
// stream head after the append; devices use it to detect when the nudge
// for their own write arrives.
type commandResponse struct {
	StreamVersion int64 `json:"stream_version"`
	EventCount    int   `json:"event_count"`
}

// metadataFrom collects the device context recorded into event metadata.
func metadataFrom(r *http.Request) events.Metadata {
	md := events.Metadata{}
	if v := r.Header.Get("X-Device-ID"); v != "" {
		md["device_id"] = v
	}
	if v := r.Header.Get("X-Device-Name"); v != "" {
		md["device_name"] = v
	}
	return md
}

// decodeBody unmarshals and validates a request body. A false return means
// the error response has been written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed_body", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

// run dispatches a command for the authenticated user and renders the
// outcome.
func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd aggregate.Command) {
	userID := auth.UserIDFromContext(r.Context())
	res, err := s.dispatcher.Dispatch(r.Context(), userID, cmd, metadataFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		StreamVersion: res.StreamVersion,
		EventCount:    res.EventCount,
	})
}

type subscribeRequest struct {
	Feed        string `json:"feed" validate:"required"`
	RSSSourceID string `json:"rss_source_id"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.Subscribe{Feed: req.Feed, RSSSourceID: req.RSSSourceID})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, aggregate.Unsubscribe{Feed: chi.URLParam(r, "feed")})
}

type recordPlayRequest struct {
	Feed      string    `json:"feed" validate:"required"`
	Item      string    `json:"item" validate:"required"`
	Position  int64     `json:"position" validate:"gte=0"`
	Played    bool      `json:"played"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleRecordPlay(w http.ResponseWriter, r *http.Request) {
	var req recordPlayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.RecordPlay{
		Feed:      req.Feed,
		Item:      req.Item,
		Position:  req.Position,
		Played:    req.Played,
		Timestamp: req.Timestamp,
	})
}

type updatePositionRequest struct {
	Feed      string    `json:"feed" validate:"required"`
	Item      string    `json:"item" validate:"required"`
	Position  int64     `json:"position" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req updatePositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.UpdatePosition{
		Feed:      req.Feed,
		Item:      req.Item,
		Position:  req.Position,
		Timestamp: req.Timestamp,
	})
}

type createPlaylistRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.CreatePlaylist{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
}

type updatePlaylistRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (s *Server) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req updatePlaylistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.UpdatePlaylist{
		PlaylistID:  chi.URLParam(r, "playlistID"),
		Name:        req.Name,
		Description: req.Description,
	})
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, aggregate.DeletePlaylist{PlaylistID: chi.URLParam(r, "playlistID")})
}

type saveEpisodeRequest struct {
	Feed      string `json:"feed" validate:"required"`
	Item      string `json:"item" validate:"required"`
	ItemTitle string `json:"item_title"`
	FeedTitle string `json:"feed_title"`
}

func (s *Server) handleSaveEpisode(w http.ResponseWriter, r *http.Request) {
	var req saveEpisodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.SaveEpisode{
		PlaylistID: chi.URLParam(r, "playlistID"),
		Feed:       req.Feed,
		Item:       req.Item,
		ItemTitle:  req.ItemTitle,
		FeedTitle:  req.FeedTitle,
	})
}

func (s *Server) handleUnsaveEpisode(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("feed")
	item := r.URL.Query().Get("item")
	if feed == "" || item == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_body", "feed and item query parameters are required")
		return
	}
	s.run(w, r, aggregate.UnsaveEpisode{
		PlaylistID: chi.URLParam(r, "playlistID"),
		Feed:       feed,
		Item:       item,
	})
}

type reorderPlaylistRequest struct {
	Feed        string `json:"feed" validate:"required"`
	Item        string `json:"item" validate:"required"`
	NewPosition int    `json:"new_position" validate:"gte=0"`
}

func (s *Server) handleReorderPlaylist(w http.ResponseWriter, r *http.Request) {
	var req reorderPlaylistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ReorderPlaylist{
		PlaylistID:  chi.URLParam(r, "playlistID"),
		Feed:        req.Feed,
		Item:        req.Item,
		NewPosition: req.NewPosition,
	})
}

type visibilityRequest struct {
	IsPublic bool `json:"is_public"`
}

func (s *Server) handlePlaylistVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ChangePlaylistVisibility{
		PlaylistID: chi.URLParam(r, "playlistID"),
		IsPublic:   req.IsPublic,
	})
}

type createCollectionRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
	IsPublic    bool   `json:"is_public"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.CreateCollection{
		Title:       req.Title,
		Description: req.Description,
		Color:       req.Color,
		IsPublic:    req.IsPublic,
	})
}

type updateCollectionRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var req updateCollectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.UpdateCollection{
		CollectionID: chi.URLParam(r, "collectionID"),
		Title:        req.Title,
		Description:  req.Description,
		Color:        req.Color,
	})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, aggregate.DeleteCollection{CollectionID: chi.URLParam(r, "collectionID")})
}

type addFeedRequest struct {
	Feed string `json:"feed" validate:"required"`
}

func (s *Server) handleAddFeedToCollection(w http.ResponseWriter, r *http.Request) {
	var req addFeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.AddFeedToCollection{
		CollectionID: chi.URLParam(r, "collectionID"),
		Feed:         req.Feed,
	})
}

func (s *Server) handleRemoveFeedFromCollection(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, aggregate.RemoveFeedFromCollection{
		CollectionID: chi.URLParam(r, "collectionID"),
		Feed:         chi.URLParam(r, "feed"),
	})
}

type reorderFeedRequest struct {
	Feed        string `json:"feed" validate:"required"`
	NewPosition int    `json:"new_position" validate:"gte=0"`
}

func (s *Server) handleReorderCollectionFeed(w http.ResponseWriter, r *http.Request) {
	var req reorderFeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ReorderCollectionFeed{
		CollectionID: chi.URLParam(r, "collectionID"),
		Feed:         req.Feed,
		NewPosition:  req.NewPosition,
	})
}

func (s *Server) handleCollectionVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ChangeCollectionVisibility{
		CollectionID: chi.URLParam(r, "collectionID"),
		IsPublic:     req.IsPublic,
	})
}

type shareEpisodeRequest struct {
	Feed string `json:"feed" validate:"required"`
	Item string `json:"item" validate:"required"`
}

func (s *Server) handleShareEpisode(w http.ResponseWriter, r *http.Request) {
	var req shareEpisodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ShareEpisode{Feed: req.Feed, Item: req.Item})
}

type changePrivacyRequest struct {
	Privacy string `json:"privacy" validate:"required"`
	Feed    string `json:"feed"`
	Item    string `json:"item"`
}

func (s *Server) handleChangePrivacy(w http.ResponseWriter, r *http.Request) {
	var req changePrivacyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.ChangePrivacy{
		Privacy: events.Privacy(req.Privacy),
		Feed:    req.Feed,
		Item:    req.Item,
	})
}

type removeEventsRequest struct {
	Feed string `json:"feed"`
	Item string `json:"item"`
}

func (s *Server) handleRemoveEvents(w http.ResponseWriter, r *http.Request) {
	var req removeEventsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.run(w, r, aggregate.RemoveEvents{Feed: req.Feed, Item: req.Item})
}

type syncRequest struct {
	Subscriptions []struct {
		Feed        string `json:"feed" validate:"required"`
		RSSSourceID string `json:"rss_source_id"`
		Subscribed  bool   `json:"subscribed"`
	} `json:"subscriptions" validate:"dive"`
	PlayStatuses []struct {
		Feed      string    `json:"feed" validate:"required"`
		Item      string    `json:"item" validate:"required"`
		Position  int64     `json:"position" validate:"gte=0"`
		Played    bool      `json:"played"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"play_statuses" validate:"dive"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := aggregate.SyncUserData{}
	for _, sub := range req.Subscriptions {
		cmd.Subscriptions = append(cmd.Subscriptions, aggregate.SyncSubscription{
			Feed:        sub.Feed,
			RSSSourceID: sub.RSSSourceID,
			Subscribed:  sub.Subscribed,
		})
	}
	for _, ps := range req.PlayStatuses {
		cmd.PlayStatuses = append(cmd.PlayStatuses, aggregate.SyncPlayStatus{
			Feed:      ps.Feed,
			Item:      ps.Item,
			Position:  ps.Position,
			Played:    ps.Played,
			Timestamp: ps.Timestamp,
		})
	}
	s.run(w, r, cmd)
}
