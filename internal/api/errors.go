// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/streamjuke/streamjuke/internal/log"
)

// errorResponse is the wire shape for every non-2xx body: a stable
// machine-readable code plus a human-readable detail.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Stable error codes shared with the chat adapter.
const (
	codeBadRequest       = "bad_request"
	codeInvalidURL       = "invalid_url"
	codeInvalidSubmitter = "invalid_submitter"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeRateLimited      = "rate_limited"
	codeInternal         = "internal_error"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails, headers are already sent so we can't change the status
// code, but we log the error for debugging.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponentFromContext(r.Context(), "api").Error().
			Err(err).
			Int("status", code).
			Msg("failed to encode JSON response")
	}
}

// respondError writes the error envelope with the given status.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, errorResponse{Error: code, Detail: detail})
}
