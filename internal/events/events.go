// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

// Package events defines the canonical event model for the Podsync log.
//
// Every user-visible action is recorded as an immutable event. An event is
// identified by its stream (the owning user), a dense per-stream version and
// a dense global position assigned by the event store. Payloads are typed
// structs serialized as JSON; the wire discriminator is the Type string on
// the envelope, resolved through an explicit per-type registry rather than
// reflection.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Privacy levels for events and feeds.
type Privacy string

const (
	// PrivacyPublic events are visible with the user attributed.
	PrivacyPublic Privacy = "public"
	// PrivacyAnonymous events are visible without attribution at query time.
	PrivacyAnonymous Privacy = "anonymous"
	// PrivacyPrivate events never appear in public feeds.
	PrivacyPrivate Privacy = "private"
)

// Valid reports whether p is one of the three defined privacy levels.
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyAnonymous, PrivacyPrivate:
		return true
	}
	return false
}

// Metadata carries command-envelope context copied verbatim into every event
// produced by that command. Recognized keys: device_id, device_name, privacy.
type Metadata map[string]string

// Merge returns a copy of m overlaid with other; other's keys win.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Envelope is a persisted event as read back from the store.
type Envelope struct {
	GlobalPosition int64           `json:"global_position"`
	StreamID       string          `json:"stream_id"`
	StreamVersion  int64           `json:"stream_version"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Metadata       Metadata        `json:"metadata,omitempty"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Decode unmarshals the envelope payload into its registered typed form.
func (e Envelope) Decode() (Payload, error) {
	return DecodePayload(e.Type, e.Payload)
}

// Payload is implemented by every typed event payload.
type Payload interface {
	// EventType returns the wire discriminator for this payload.
	EventType() string
}

// Proposed is an event produced by a command handler before it has been
// assigned versions and positions by the store.
type Proposed struct {
	Type    string
	Payload json.RawMessage
}

// NewProposed serializes a typed payload into a Proposed event.
func NewProposed(p Payload) (Proposed, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Proposed{}, fmt.Errorf("events: encode %s: %w", p.EventType(), err)
	}
	return Proposed{Type: p.EventType(), Payload: raw}, nil
}

// MustProposed is NewProposed for payloads that cannot fail to serialize.
// Command handlers use it for the payload structs defined in this package,
// none of which contain unmarshalable fields.
func MustProposed(p Payload) Proposed {
	pr, err := NewProposed(p)
	if err != nil {
		panic(err)
	}
	return pr
}

// registry maps event type names to payload constructors. Adding an event
// type means adding a payload struct and one entry here.
var registry = map[string]func() Payload{
	TypeUserSubscribed:              func() Payload { return &UserSubscribed{} },
	TypeUserUnsubscribed:            func() Payload { return &UserUnsubscribed{} },
	TypePlayRecorded:                func() Payload { return &PlayRecorded{} },
	TypePositionUpdated:             func() Payload { return &PositionUpdated{} },
	TypeEpisodeSaved:                func() Payload { return &EpisodeSaved{} },
	TypeEpisodeUnsaved:              func() Payload { return &EpisodeUnsaved{} },
	TypeEpisodeShared:               func() Payload { return &EpisodeShared{} },
	TypePrivacyChanged:              func() Payload { return &PrivacyChanged{} },
	TypeEventsRemoved:               func() Payload { return &EventsRemoved{} },
	TypePlaylistCreated:             func() Payload { return &PlaylistCreated{} },
	TypePlaylistUpdated:             func() Payload { return &PlaylistUpdated{} },
	TypePlaylistDeleted:             func() Payload { return &PlaylistDeleted{} },
	TypePlaylistReordered:           func() Payload { return &PlaylistReordered{} },
	TypePlaylistVisibilityChanged:   func() Payload { return &PlaylistVisibilityChanged{} },
	TypeCollectionCreated:           func() Payload { return &CollectionCreated{} },
	TypeCollectionUpdated:           func() Payload { return &CollectionUpdated{} },
	TypeCollectionDeleted:           func() Payload { return &CollectionDeleted{} },
	TypeCollectionVisibilityChanged: func() Payload { return &CollectionVisibilityChanged{} },
	TypeFeedAddedToCollection:       func() Payload { return &FeedAddedToCollection{} },
	TypeFeedRemovedFromCollection:   func() Payload { return &FeedRemovedFromCollection{} },
	TypeCollectionFeedReordered:     func() Payload { return &CollectionFeedReordered{} },
	TypeUserCheckpoint:              func() Payload { return &UserCheckpoint{} },
	TypePopularityRecalculated:      func() Payload { return &PopularityRecalculated{} },
}

// DecodePayload resolves eventType through the registry and unmarshals raw.
func DecodePayload(eventType string, raw json.RawMessage) (Payload, error) {
	ctor, ok := registry[eventType]
	if !ok {
		return nil, fmt.Errorf("events: unknown event type %q", eventType)
	}
	p := ctor()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", eventType, err)
	}
	return p, nil
}

// KnownType reports whether eventType has a registered payload.
func KnownType(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}
