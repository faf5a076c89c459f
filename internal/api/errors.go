// Podsync - Multi-Device Podcast Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/podsync

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/podsync/internal/aggregate"
	"github.com/tomtom215/podsync/internal/dispatch"
	"github.com/tomtom215/podsync/internal/logging"
)

// errorResponse is the JSON error envelope. Code is the stable lower_snake
// identifier clients branch on; the message is advisory.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// statusForCode maps stable result codes onto HTTP statuses. Unknown codes
// default to 400: new validation codes are caller faults until proven
// otherwise.
var statusForCode = map[string]int{
	dispatch.CodeVersionConflict: http.StatusConflict,
	dispatch.CodeStreamPoisoned:  http.StatusServiceUnavailable,
	dispatch.CodeRateLimited:     http.StatusTooManyRequests,
	dispatch.CodeTimeout:         http.StatusGatewayTimeout,
	dispatch.CodeUnavailable:     http.StatusServiceUnavailable,

	aggregate.CodePlaylistNotFound:   http.StatusNotFound,
	aggregate.CodeCollectionNotFound: http.StatusNotFound,

	aggregate.CodePlaylistAlreadyExists:          http.StatusConflict,
	aggregate.CodeDefaultCollectionAlreadyExists: http.StatusConflict,
}

func statusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusBadRequest
}

// writeError renders a dispatch failure as the JSON envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *dispatch.Error
	code := dispatch.CodeUnavailable
	if errors.As(err, &de) {
		code = de.Code
	} else {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Unclassified handler error")
	}
	writeErrorCode(w, statusFor(code), code, "")
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	var body errorResponse
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
