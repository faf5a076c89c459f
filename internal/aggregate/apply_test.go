// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/podsync/internal/events"
)

func envelope(t *testing.T, version int64, p events.Payload) events.Envelope {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return events.Envelope{
		StreamID:      "user-1",
		StreamVersion: version,
		Type:          p.EventType(),
		Payload:       raw,
	}
}

func TestApplyIsTotalOnMissingEntities(t *testing.T) {
	orphans := []events.Payload{
		&events.UserUnsubscribed{Feed: "ghost"},
		&events.EpisodeUnsaved{PlaylistID: "ghost", Feed: "f", Item: "i"},
		&events.PlaylistUpdated{PlaylistID: "ghost", Name: "x"},
		&events.PlaylistDeleted{PlaylistID: "ghost"},
		&events.PlaylistReordered{PlaylistID: "ghost"},
		&events.PlaylistVisibilityChanged{PlaylistID: "ghost", IsPublic: true},
		&events.CollectionUpdated{CollectionID: "ghost", Title: "x"},
		&events.CollectionDeleted{CollectionID: "ghost"},
		&events.CollectionVisibilityChanged{CollectionID: "ghost"},
		&events.FeedAddedToCollection{CollectionID: "ghost", Feed: "f"},
		&events.FeedRemovedFromCollection{CollectionID: "ghost", Feed: "f"},
		&events.CollectionFeedReordered{CollectionID: "ghost", Feed: "f"},
	}

	s := NewState("user-1")
	for i, p := range orphans {
		if err := Apply(s, envelope(t, int64(i+1), p)); err != nil {
			t.Fatalf("apply %T: %v", p, err)
		}
	}
	if len(s.Subscriptions) != 0 || len(s.Playlists) != 0 || len(s.Collections) != 0 {
		t.Fatalf("orphan events mutated state: %+v", s)
	}
	if s.Version != int64(len(orphans)) {
		t.Fatalf("version not advanced: %d", s.Version)
	}
}

func TestApplyUndecodablePayloadIsFatal(t *testing.T) {
	s := NewState("user-1")
	env := events.Envelope{
		StreamID:      "user-1",
		StreamVersion: 1,
		Type:          "mystery.event",
		Payload:       json.RawMessage(`{}`),
	}
	err := Apply(s, env)
	var fe *FatalApplyError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalApplyError, got %v", err)
	}
	if fe.StreamVersion != 1 {
		t.Errorf("fatal error version: %d", fe.StreamVersion)
	}
}

func TestEpisodeSavedMaterializesImplicitPlaylist(t *testing.T) {
	s := NewState("user-1")
	err := Apply(s, envelope(t, 1, &events.EpisodeSaved{
		PlaylistID: "saved", Feed: "f1", Item: "i1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	pl, ok := s.Playlists["saved"]
	if !ok {
		t.Fatal("implicit playlist not materialized")
	}
	if pl.IsPublic {
		t.Error("implicit playlist must be private")
	}
	if len(pl.Items) != 1 {
		t.Fatalf("items: %v", pl.Items)
	}
}

// A checkpoint applied to an empty aggregate must reproduce the state it was
// built from; that equivalence is what authorizes event deletion.
func TestCheckpointRoundTrip(t *testing.T) {
	s := NewState("user-1")
	hc := testContext()

	step(t, s, Subscribe{Feed: "f1", RSSSourceID: "rss-1"}, hc)
	step(t, s, Subscribe{Feed: "f2", RSSSourceID: "rss-2"}, hc)
	step(t, s, Unsubscribe{Feed: "f2"}, hc)
	step(t, s, RecordPlay{Feed: "f1", Item: "i1", Position: 300, Played: true}, hc)
	step(t, s, CreatePlaylist{Name: "Queue"}, hc)
	step(t, s, SaveEpisode{PlaylistID: "id-2", Feed: "f1", Item: "i1"}, hc)
	step(t, s, CreateCollection{Title: "News"}, hc)
	step(t, s, ChangePrivacy{Privacy: events.PrivacyAnonymous, Feed: "f1"}, hc)

	cp := BuildCheckpoint(s, hc.Now())
	if !cp.Exhaustive() {
		t.Fatal("checkpoint not exhaustive")
	}

	// Round-trip through JSON the way the store does.
	restored := NewState("user-1")
	if err := Apply(restored, envelope(t, 42, cp)); err != nil {
		t.Fatal(err)
	}
	restored.Version = s.Version

	if !reflect.DeepEqual(s.Subscriptions, restored.Subscriptions) {
		t.Errorf("subscriptions diverge:\n  got  %+v\n  want %+v", restored.Subscriptions, s.Subscriptions)
	}
	if !reflect.DeepEqual(s.PlayStatuses, restored.PlayStatuses) {
		t.Errorf("play statuses diverge")
	}
	if !reflect.DeepEqual(s.Playlists, restored.Playlists) {
		t.Errorf("playlists diverge:\n  got  %+v\n  want %+v", restored.Playlists, s.Playlists)
	}
	if !reflect.DeepEqual(s.Collections, restored.Collections) {
		t.Errorf("collections diverge:\n  got  %+v\n  want %+v", restored.Collections, s.Collections)
	}
	if !reflect.DeepEqual(s.Privacy, restored.Privacy) {
		t.Errorf("privacy diverges")
	}
}

func TestCheckpointReplacesNotMerges(t *testing.T) {
	s := NewState("user-1")
	hc := testContext()
	step(t, s, Subscribe{Feed: "stale"}, hc)
	step(t, s, CreatePlaylist{Name: "stale"}, hc)

	fresh := NewState("user-1")
	freshHC := testContext()
	step(t, fresh, Subscribe{Feed: "current"}, freshHC)
	cp := BuildCheckpoint(fresh, freshHC.Now())

	if err := Apply(s, envelope(t, 10, cp)); err != nil {
		t.Fatal(err)
	}
	if s.IsSubscribed("stale") {
		t.Error("checkpoint merged instead of replacing subscriptions")
	}
	if len(s.Playlists) != 0 {
		t.Error("checkpoint merged instead of replacing playlists")
	}
	if !s.IsSubscribed("current") {
		t.Error("checkpoint content lost")
	}
}

func TestSubscriptionActiveAfterTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	unsub := base.Add(time.Hour)
	cases := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"never unsubscribed", Subscription{SubscribedAt: base}, true},
		{"unsubscribed after", Subscription{SubscribedAt: base, UnsubscribedAt: &unsub}, false},
		{"resubscribed after", Subscription{SubscribedAt: unsub.Add(time.Hour), UnsubscribedAt: &unsub}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sub.Active(); got != tc.want {
				t.Errorf("Active() = %v, want %v", got, tc.want)
			}
		})
	}
}
