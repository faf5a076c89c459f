// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package aggregate

import "fmt"

// Reason codes for command validation failures. These are stable wire
// identifiers: they cross the dispatcher boundary unchanged and are mapped
// to HTTP statuses by the API layer. Never rename one.
const (
	CodeNameRequired                   = "name_required"
	CodeTitleRequired                  = "title_required"
	CodeNotSubscribed                  = "not_subscribed"
	CodeFeedNotSubscribed              = "feed_not_subscribed"
	CodeInvalidPosition                = "invalid_position"
	CodeInvalidPrivacy                 = "invalid_privacy"
	CodeEpisodeNotSaved                = "episode_not_saved"
	CodePlaylistNotFound               = "playlist_not_found"
	CodePlaylistAlreadyExists          = "playlist_already_exists"
	CodeCollectionNotFound             = "collection_not_found"
	CodeFeedNotInCollection            = "feed_not_in_collection"
	CodeCannotDeleteDefaultCollection  = "cannot_delete_default_collection"
	CodeDefaultCollectionAlreadyExists = "default_collection_already_exists"
	CodeUnknownCommand                 = "unknown_command"
)

// ValidationError is a command rejection attributable to the caller. It is
// never retried; the code is one of the constants above.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string { return "aggregate: " + e.Code }

// Validation builds a ValidationError for a reason code.
func Validation(code string) *ValidationError {
	return &ValidationError{Code: code}
}

// FatalApplyError marks an event that cannot be applied during replay, such
// as an undecodable payload. The runtime quarantines the stream when it sees
// one; it is a logic or corruption bug, never a caller error.
type FatalApplyError struct {
	StreamID      string
	StreamVersion int64
	Err           error
}

func (e *FatalApplyError) Error() string {
	return fmt.Sprintf("aggregate: fatal apply at %s/%d: %v", e.StreamID, e.StreamVersion, e.Err)
}

func (e *FatalApplyError) Unwrap() error { return e.Err }
