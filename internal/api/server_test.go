// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/podsync/internal/auth"
	"github.com/tomtom215/podsync/internal/config"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/eventstore"
	"github.com/tomtom215/podsync/internal/runtime"
)

// newTestServer wires the command path end to end over the in-memory store.
// Query endpoints need Postgres and stay out of these tests.
func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	rt := runtime.New(eventstore.NewMemoryStore(), runtime.Config{})
	d := dispatch.New(rt, nil, dispatch.Config{})

	tokens, err := auth.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, err := tokens.IssueToken("user-1")
	if err != nil {
		t.Fatal(err)
	}

	s := New(config.ServerConfig{CORSOrigins: []string{"*"}}, d, nil, nil, tokens)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, token
}

func doJSON(t *testing.T, srv *httptest.Server, token, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", "device-abc")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestSubscribeCommand(t *testing.T) {
	srv, token := newTestServer(t)

	resp, body := doJSON(t, srv, token, http.MethodPost, "/api/v1/subscriptions",
		`{"feed": "https://example.com/feed.xml"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	// Subscribe on a fresh user also creates the default collection, so the
	// stream advances by three events.
	if got := body["stream_version"].(float64); got != 3 {
		t.Errorf("stream_version = %v, want 3", got)
	}
	if got := body["event_count"].(float64); got != 3 {
		t.Errorf("event_count = %v, want 3", got)
	}
}

func TestValidationErrorsMapToStatus(t *testing.T) {
	srv, token := newTestServer(t)

	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing required field",
			method:     http.MethodPost,
			path:       "/api/v1/subscriptions",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_body",
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			path:       "/api/v1/subscriptions",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_body",
		},
		{
			name:       "unsubscribe without subscription",
			method:     http.MethodDelete,
			path:       "/api/v1/subscriptions/unknown-feed",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantCode:   "not_subscribed",
		},
		{
			name:       "playlist not found",
			method:     http.MethodDelete,
			path:       "/api/v1/playlists/nope",
			body:       "",
			wantStatus: http.StatusNotFound,
			wantCode:   "playlist_not_found",
		},
		{
			name:       "collection not found",
			method:     http.MethodDelete,
			path:       "/api/v1/collections/nope",
			body:       "",
			wantStatus: http.StatusNotFound,
			wantCode:   "collection_not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, srv, token, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tc.wantStatus, body)
			}
			errObj, _ := body["error"].(map[string]any)
			if errObj["code"] != tc.wantCode {
				t.Errorf("code = %v, want %s", errObj["code"], tc.wantCode)
			}
		})
	}
}

func TestDuplicatePlaylistConflicts(t *testing.T) {
	srv, token := newTestServer(t)

	resp, body := doJSON(t, srv, token, http.MethodPost, "/api/v1/playlists",
		`{"name": "Morning Commute"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, token, http.MethodPost, "/api/v1/playlists",
		`{"name": "Morning Commute"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: status %d, body %v", resp.StatusCode, body)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "playlist_already_exists" {
		t.Errorf("code = %v", errObj["code"])
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/subscriptions", "application/json",
		strings.NewReader(`{"feed": "https://example.com/feed.xml"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthEndpointNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSyncEndpoint(t *testing.T) {
	srv, token := newTestServer(t)

	resp, body := doJSON(t, srv, token, http.MethodPost, "/api/v1/sync", `{
		"subscriptions": [
			{"feed": "https://a.example/feed.xml", "subscribed": true},
			{"feed": "https://b.example/feed.xml", "subscribed": true}
		],
		"play_statuses": [
			{"feed": "https://a.example/feed.xml", "item": "ep-1", "position": 120, "played": false}
		]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	// Two subscribes (first also creates the default collection and files
	// both feeds into it) plus one play record.
	if got := body["event_count"].(float64); got != 6 {
		t.Errorf("event_count = %v, want 6", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
