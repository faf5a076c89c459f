// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/podsync/internal/auth"
	"github.com/tomtom215/podsync/internal/logging"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageSize(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func (s *Server) queryError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Msg("Read model query failed")
	writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "")
}

type subscriptionView struct {
	Feed           string     `json:"feed"`
	RSSSourceID    string     `json:"rss_source_id,omitempty"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	// Unsubscribed rows are kept for history and returned only on request.
	includeInactive := r.URL.Query().Get("all") == "true"

	query := `SELECT feed, rss_source_id, subscribed_at, unsubscribed_at
	            FROM subscriptions WHERE user_id = $1`
	if !includeInactive {
		query += ` AND unsubscribed_at IS NULL`
	}
	query += ` ORDER BY subscribed_at DESC`

	rows, err := s.pool.Query(r.Context(), query, userID)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (subscriptionView, error) {
		var v subscriptionView
		err := row.Scan(&v.Feed, &v.RSSSourceID, &v.SubscribedAt, &v.UnsubscribedAt)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

type playStatusView struct {
	Feed      string    `json:"feed"`
	Item      string    `json:"item"`
	Position  int64     `json:"position"`
	Played    bool      `json:"played"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleListPlayStatuses(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	query := `SELECT feed, item, position, played, updated_at
	            FROM play_statuses WHERE user_id = $1`
	args := []any{userID}
	if feed := r.URL.Query().Get("feed"); feed != "" {
		query += ` AND feed = $2`
		args = append(args, feed)
	}
	query += ` ORDER BY updated_at DESC LIMIT ` + strconv.Itoa(pageSize(r))

	rows, err := s.pool.Query(r.Context(), query, args...)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (playStatusView, error) {
		var v playStatusView
		err := row.Scan(&v.Feed, &v.Item, &v.Position, &v.Played, &v.UpdatedAt)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"play_statuses": out})
}

type playlistView struct {
	PlaylistID  string `json:"playlist_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public"`
}

type playlistItemView struct {
	Feed      string `json:"feed"`
	Item      string `json:"item"`
	ItemTitle string `json:"item_title,omitempty"`
	FeedTitle string `json:"feed_title,omitempty"`
	Position  int    `json:"position"`
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := s.pool.Query(r.Context(),
		`SELECT playlist_id, name, description, is_public
		   FROM playlists WHERE user_id = $1 AND deleted_at IS NULL
		  ORDER BY name`, userID)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (playlistView, error) {
		var v playlistView
		err := row.Scan(&v.PlaylistID, &v.Name, &v.Description, &v.IsPublic)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": out})
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	playlistID := chi.URLParam(r, "playlistID")

	var pl playlistView
	err := s.pool.QueryRow(r.Context(),
		`SELECT playlist_id, name, description, is_public
		   FROM playlists
		  WHERE user_id = $1 AND playlist_id = $2 AND deleted_at IS NULL`,
		userID, playlistID).
		Scan(&pl.PlaylistID, &pl.Name, &pl.Description, &pl.IsPublic)
	if errors.Is(err, pgx.ErrNoRows) {
		writeErrorCode(w, http.StatusNotFound, "playlist_not_found", "")
		return
	}
	if err != nil {
		s.queryError(w, r, err)
		return
	}

	rows, err := s.pool.Query(r.Context(),
		`SELECT feed, item, item_title, feed_title, position
		   FROM playlist_items
		  WHERE user_id = $1 AND playlist_id = $2
		  ORDER BY position`, userID, playlistID)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (playlistItemView, error) {
		var v playlistItemView
		err := row.Scan(&v.Feed, &v.Item, &v.ItemTitle, &v.FeedTitle, &v.Position)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlist": pl, "items": items})
}

type collectionView struct {
	CollectionID string   `json:"collection_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Color        string   `json:"color,omitempty"`
	IsDefault    bool     `json:"is_default"`
	IsPublic     bool     `json:"is_public"`
	Feeds        []string `json:"feeds"`
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := s.pool.Query(r.Context(),
		`SELECT collection_id, title, description, color, is_default, is_public
		   FROM collections WHERE user_id = $1
		  ORDER BY is_default DESC, title`, userID)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	collections, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (collectionView, error) {
		v := collectionView{Feeds: []string{}}
		err := row.Scan(&v.CollectionID, &v.Title, &v.Description, &v.Color, &v.IsDefault, &v.IsPublic)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}

	feedRows, err := s.pool.Query(r.Context(),
		`SELECT collection_id, feed FROM collection_subscriptions
		  WHERE user_id = $1 ORDER BY collection_id, position`, userID)
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	feedsByCollection := map[string][]string{}
	_, err = pgx.CollectRows(feedRows, func(row pgx.CollectableRow) (struct{}, error) {
		var collectionID, feed string
		if err := row.Scan(&collectionID, &feed); err != nil {
			return struct{}{}, err
		}
		feedsByCollection[collectionID] = append(feedsByCollection[collectionID], feed)
		return struct{}{}, nil
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	for i := range collections {
		if feeds, ok := feedsByCollection[collections[i].CollectionID]; ok {
			collections[i].Feeds = feeds
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

type publicEventView struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Feed      string    `json:"feed,omitempty"`
	Item      string    `json:"item,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// handlePublicEvents serves the shared activity feed. Anonymous rows have
// the user id blanked at query time; the stored row keeps it so a later
// privacy change can restore attribution.
func (s *Server) handlePublicEvents(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pool.Query(r.Context(),
		`SELECT CASE WHEN privacy = 'anonymous' THEN '' ELSE user_id END,
		        event_type, feed, item, created_at
		   FROM public_events
		  WHERE privacy IN ('public', 'anonymous')
		  ORDER BY id DESC LIMIT $1`, pageSize(r))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (publicEventView, error) {
		var v publicEventView
		err := row.Scan(&v.UserID, &v.EventType, &v.Feed, &v.Item, &v.CreatedAt)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type podcastPopularityView struct {
	Feed        string `json:"feed"`
	Subscribers int64  `json:"subscribers"`
	Plays       int64  `json:"plays"`
	Saves       int64  `json:"saves"`
	Shares      int64  `json:"shares"`
	Score       int64  `json:"score"`
}

func (s *Server) handlePopularPodcasts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pool.Query(r.Context(),
		`SELECT feed, subscribers, plays, saves, shares, score
		   FROM podcast_popularity
		  ORDER BY score DESC, feed LIMIT $1`, pageSize(r))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (podcastPopularityView, error) {
		var v podcastPopularityView
		err := row.Scan(&v.Feed, &v.Subscribers, &v.Plays, &v.Saves, &v.Shares, &v.Score)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"podcasts": out})
}

type episodePopularityView struct {
	Item   string `json:"item"`
	Feed   string `json:"feed"`
	Plays  int64  `json:"plays"`
	Saves  int64  `json:"saves"`
	Shares int64  `json:"shares"`
	Score  int64  `json:"score"`
}

func (s *Server) handlePopularEpisodes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pool.Query(r.Context(),
		`SELECT item, feed, plays, saves, shares, score
		   FROM episode_popularity
		  ORDER BY score DESC, item LIMIT $1`, pageSize(r))
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (episodePopularityView, error) {
		var v episodePopularityView
		err := row.Scan(&v.Item, &v.Feed, &v.Plays, &v.Saves, &v.Shares, &v.Score)
		return v, err
	})
	if err != nil {
		s.queryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": out})
}
