// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package projection

import (
	"errors"
	"testing"

	"github.com/tomtom215/podsync/internal/events"
)

func TestEffectivePrivacyMatrix(t *testing.T) {
	cases := []struct {
		name  string
		rules PrivacyRules
		want  events.Privacy
	}{
		{"no rules defaults public", PrivacyRules{}, events.PrivacyPublic},
		{"global only", PrivacyRules{Global: events.PrivacyPrivate}, events.PrivacyPrivate},
		{"feed overrides global", PrivacyRules{Global: events.PrivacyPrivate, Feed: events.PrivacyAnonymous}, events.PrivacyAnonymous},
		{"item overrides feed", PrivacyRules{Global: events.PrivacyPrivate, Feed: events.PrivacyPrivate, Item: events.PrivacyPublic}, events.PrivacyPublic},
		{"item overrides global", PrivacyRules{Global: events.PrivacyPublic, Item: events.PrivacyPrivate}, events.PrivacyPrivate},
		{"feed only", PrivacyRules{Feed: events.PrivacyPrivate}, events.PrivacyPrivate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectivePrivacy(tc.rules); got != tc.want {
				t.Errorf("EffectivePrivacy(%+v) = %q, want %q", tc.rules, got, tc.want)
			}
		})
	}
}

func TestVisible(t *testing.T) {
	if !Visible(events.PrivacyPublic) || !Visible(events.PrivacyAnonymous) {
		t.Error("public and anonymous must be visible")
	}
	if Visible(events.PrivacyPrivate) {
		t.Error("private must not be visible")
	}
}

func TestFatalErrorsAreMarked(t *testing.T) {
	base := errors.New("bad payload")
	err := Fatal(base)

	var fe fatalError
	if !errors.As(err, &fe) {
		t.Fatal("Fatal did not wrap")
	}
	if !errors.Is(err, base) {
		t.Fatal("cause lost")
	}
}

func TestProjectorNamesAreUnique(t *testing.T) {
	projectors := []Projector{
		SubscriptionsProjector{},
		PlayStatusProjector{},
		PlaylistsProjector{},
		CollectionsProjector{},
		PublicEventsProjector{},
		PopularityProjector{},
	}
	seen := make(map[string]bool)
	for _, p := range projectors {
		name := p.Name()
		if name == "" {
			t.Errorf("%T has empty name", p)
		}
		if seen[name] {
			t.Errorf("duplicate projector name %q", name)
		}
		seen[name] = true
	}
}

func TestScoreConstants(t *testing.T) {
	// These weights are part of the scoring contract; a change here silently
	// skews every trending computation.
	if ScoreSubscribe != 10 || ScorePlay != 5 || ScoreSave != 3 || ScoreShare != 2 {
		t.Fatalf("score weights changed: subscribe=%d play=%d save=%d share=%d",
			ScoreSubscribe, ScorePlay, ScoreSave, ScoreShare)
	}
}
