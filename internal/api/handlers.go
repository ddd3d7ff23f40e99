// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/streamjuke/streamjuke/internal/command"
	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/queue"
)

// maxBodyBytes caps the submit body; a URL plus names fits easily.
const maxBodyBytes = 64 << 10

// submitRequest is the POST /api/v1/queue body sent by the chat adapter.
type submitRequest struct {
	URL       string `json:"url"`
	Submitter string `json:"submitter"`
	Promo     string `json:"promo,omitempty"`
}

type submitResponse struct {
	ID       openapi_types.UUID `json:"id"`
	Position int64              `json:"position"`
	Notice   string             `json:"notice,omitempty"`
}

type queueEntry struct {
	ID        openapi_types.UUID `json:"id"`
	Title     string             `json:"title"`
	Submitter string             `json:"submitter"`
	Position  int64              `json:"position"`
}

type queueResponse struct {
	Items []queueEntry `json:"items"`
}

type nowPlayingEntry struct {
	ID              openapi_types.UUID `json:"id"`
	Title           string             `json:"title"`
	Submitter       string             `json:"submitter"`
	DurationSeconds float64            `json:"durationSeconds"`
	Promo           string             `json:"promo,omitempty"`
}

type nowPlayingResponse struct {
	Playing bool             `json:"playing"`
	Item    *nowPlayingEntry `json:"item,omitempty"`
}

type skipResponse struct {
	Accepted bool `json:"accepted"`
}

type clearResponse struct {
	Cleared int `json:"cleared"`
}

type helpResponse struct {
	Text string `json:"text"`
}

// handleSubmit accepts one media submission from the chat adapter.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "malformed JSON body")
		return
	}

	result, err := s.commands.Submit(r.Context(), req.URL, req.Submitter, req.Promo, roleFromRequest(r))
	if err != nil {
		s.respondCommandError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, submitResponse{
		ID:       result.ID,
		Position: result.Position,
		Notice:   result.Notice,
	})
}

// handleQueue lists the next pending items in play order.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, codeBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	items, err := s.commands.Queue(r.Context(), limit)
	if err != nil {
		s.respondCommandError(w, r, err)
		return
	}

	resp := queueResponse{Items: make([]queueEntry, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, queueEntry{
			ID:        item.ID,
			Title:     item.Title,
			Submitter: item.SubmittedBy,
			Position:  item.Position,
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleNowPlaying reports the item on air, if any.
func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	item, err := s.commands.NowPlaying(r.Context())
	if err != nil {
		s.respondCommandError(w, r, err)
		return
	}

	if item == nil {
		writeJSON(w, r, http.StatusOK, nowPlayingResponse{Playing: false})
		return
	}
	writeJSON(w, r, http.StatusOK, nowPlayingResponse{
		Playing: true,
		Item:    toNowPlayingEntry(item),
	})
}

func toNowPlayingEntry(item *queue.Item) *nowPlayingEntry {
	return &nowPlayingEntry{
		ID:              item.ID,
		Title:           item.Title,
		Submitter:       item.SubmittedBy,
		DurationSeconds: item.DurationSeconds,
		Promo:           item.PromoLink,
	}
}

// handleSkip stops the clip currently on air. The signal is asynchronous;
// 202 acknowledges delivery, not completion.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Skip(r.Context(), roleFromRequest(r)); err != nil {
		s.respondCommandError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, skipResponse{Accepted: true})
}

// handleClear drops all pending items. The playing item is untouched.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.commands.Clear(r.Context(), roleFromRequest(r))
	if err != nil {
		s.respondCommandError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, clearResponse{Cleared: cleared})
}

// handleHelp returns the chat command vocabulary for the adapter to post.
func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, helpResponse{Text: s.commands.Help()})
}

// respondCommandError translates command errors into the wire envelope.
func (s *Server) respondCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrInvalidURL):
		respondError(w, r, http.StatusBadRequest, codeInvalidURL, err.Error())
	case errors.Is(err, command.ErrInvalidSubmitter):
		respondError(w, r, http.StatusBadRequest, codeInvalidSubmitter, err.Error())
	case errors.Is(err, command.ErrRateLimited):
		w.Header().Set("Retry-After", "20")
		respondError(w, r, http.StatusTooManyRequests, codeRateLimited, err.Error())
	case errors.Is(err, command.ErrForbidden):
		respondError(w, r, http.StatusForbidden, codeForbidden, err.Error())
	default:
		log.WithComponentFromContext(r.Context(), "api").Error().
			Err(err).
			Msg("command failed")
		respondError(w, r, http.StatusInternalServerError, codeInternal, "command failed")
	}
}
