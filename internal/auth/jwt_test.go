// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.IssueToken("user-1")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := m.VerifyToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "user-1" {
		t.Fatalf("user id round-trip: %s", userID)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	m, _ := NewManager("test-secret", time.Hour)
	other, _ := NewManager("other-secret", time.Hour)

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.VerifyToken(tc.token); err == nil {
				t.Error("expected rejection")
			}
		})
	}

	// Signed with a different secret.
	foreign, err := other.IssueToken("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.VerifyToken(foreign); err == nil {
		t.Error("token signed with a different secret accepted")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestMiddleware(t *testing.T) {
	m, _ := NewManager("test-secret", time.Hour)
	token, _ := m.IssueToken("user-1")

	var gotUserID string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	// Valid bearer header.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotUserID != "user-1" {
		t.Fatalf("valid token: status=%d user=%q", rec.Code, gotUserID)
	}

	// Token via query parameter (WebSocket fallback).
	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: status=%d", rec.Code)
	}

	// Missing credentials.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status=%d", rec.Code)
	}
}
