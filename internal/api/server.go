// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package api is the HTTP surface: command endpoints feeding the
// dispatcher, query endpoints reading the Postgres read models, the
// WebSocket upgrade, and the operational endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/podsync/internal/auth"
	"github.com/tomtom215/podsync/internal/config"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/logging"
	"github.com/tomtom215/podsync/internal/ws"
)

var validate = validator.New()

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *dispatch.Dispatcher
	pool       *pgxpool.Pool
	hub        *ws.Hub
	tokens     *auth.Manager
}

// New assembles the server. hub may be nil when the push channel is
// disabled.
func New(cfg config.ServerConfig, dispatcher *dispatch.Dispatcher, pool *pgxpool.Pool, hub *ws.Hub, tokens *auth.Manager) *Server {
	return &Server{cfg: cfg, dispatcher: dispatcher, pool: pool, hub: hub, tokens: tokens}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-ID", "X-Device-Name"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.tokens.Middleware)

		// Subscriptions.
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions/{feed}", s.handleUnsubscribe)

		// Playback.
		r.Get("/plays", s.handleListPlayStatuses)
		r.Post("/plays", s.handleRecordPlay)
		r.Post("/positions", s.handleUpdatePosition)

		// Playlists.
		r.Get("/playlists", s.handleListPlaylists)
		r.Get("/playlists/{playlistID}", s.handleGetPlaylist)
		r.Post("/playlists", s.handleCreatePlaylist)
		r.Put("/playlists/{playlistID}", s.handleUpdatePlaylist)
		r.Delete("/playlists/{playlistID}", s.handleDeletePlaylist)
		r.Post("/playlists/{playlistID}/items", s.handleSaveEpisode)
		r.Delete("/playlists/{playlistID}/items", s.handleUnsaveEpisode)
		r.Post("/playlists/{playlistID}/reorder", s.handleReorderPlaylist)
		r.Post("/playlists/{playlistID}/visibility", s.handlePlaylistVisibility)

		// Collections.
		r.Get("/collections", s.handleListCollections)
		r.Post("/collections", s.handleCreateCollection)
		r.Put("/collections/{collectionID}", s.handleUpdateCollection)
		r.Delete("/collections/{collectionID}", s.handleDeleteCollection)
		r.Post("/collections/{collectionID}/feeds", s.handleAddFeedToCollection)
		r.Delete("/collections/{collectionID}/feeds/{feed}", s.handleRemoveFeedFromCollection)
		r.Post("/collections/{collectionID}/reorder", s.handleReorderCollectionFeed)
		r.Post("/collections/{collectionID}/visibility", s.handleCollectionVisibility)

		// Social and privacy.
		r.Post("/shares", s.handleShareEpisode)
		r.Post("/privacy", s.handleChangePrivacy)
		r.Post("/privacy/remove-events", s.handleRemoveEvents)

		// Offline reconciliation.
		r.Post("/sync", s.handleSync)

		// Public read models. Auth still applies: the instance decides who
		// may browse, visibility filtering decides what they see.
		r.Get("/public/events", s.handlePublicEvents)
		r.Get("/popular/podcasts", s.handlePopularPodcasts)
		r.Get("/popular/episodes", s.handlePopularEpisodes)

		if s.hub != nil {
			r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
				s.hub.HandleConnection(w, r, auth.UserIDFromContext(r.Context()))
			})
		}
	})

	return r
}

// Serve runs the HTTP listener until ctx is cancelled. Satisfies
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger().Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		logging.Logger().Info().Msg("HTTP server stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
