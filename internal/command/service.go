// SPDX-License-Identifier: MIT

// Package command is the synchronous service behind every chat
// command. The HTTP layer translates requests into these calls; tests
// drive them directly.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/streamjuke/streamjuke/internal/auth"
	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/metrics"
	"github.com/streamjuke/streamjuke/internal/queue"
	"github.com/streamjuke/streamjuke/internal/ratelimit"
)

var (
	// ErrInvalidURL rejects a submission whose URL is off the platform
	// allow-list and not a direct media link.
	ErrInvalidURL = errors.New("unsupported media URL")
	// ErrInvalidSubmitter rejects a submission without a usable name.
	ErrInvalidSubmitter = errors.New("submitter name is empty")
	// ErrRateLimited rejects a submission over the per-submitter budget.
	ErrRateLimited = errors.New("submission rate limit exceeded")
	// ErrForbidden rejects a command the caller's role does not carry.
	ErrForbidden = errors.New("role not permitted")
)

// copyrightNotice is posted back on a submitter's first accepted
// submission of the process lifetime.
const copyrightNotice = "NOTICE: By submitting content, you confirm you have " +
	"the rights to share it. No copyrighted, illegal, hateful, or NSFW content. " +
	"Violations may result in a ban."

// helpText is the command vocabulary, formatted for the chat adapter
// to post verbatim.
const helpText = "Commands: !request <media_url> [promo_url] (aliases: !req, !sr) | " +
	"!queue (!q) | !np (!nowplaying, !song, !current) | !skip (mod) | " +
	"!clear (broadcaster) | !help"

// Skipper stops the clip currently on air.
type Skipper interface {
	Skip()
}

// SubmitResult reports an accepted submission back to the adapter.
type SubmitResult struct {
	ID       uuid.UUID
	Position int64
	// Notice carries the copyright disclaimer on the submitter's first
	// accepted submission, otherwise "".
	Notice string
}

// Service executes chat commands against the queue and the pipeline.
type Service struct {
	store   queue.Store
	limiter *ratelimit.SubmitLimiter
	skipper Skipper

	mu     sync.Mutex
	warned map[string]struct{} // lowercased submitters already shown the notice
}

// New creates a Service.
func New(store queue.Store, limiter *ratelimit.SubmitLimiter, skipper Skipper) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		skipper: skipper,
		warned:  make(map[string]struct{}),
	}
}

// Submit validates and enqueues one submission. A promo link that
// fails validation is dropped silently; the submission itself goes
// through. The role is advisory here since every role may submit.
func (s *Service) Submit(ctx context.Context, rawURL, submitter, promo string, role auth.Role) (SubmitResult, error) {
	logger := log.WithComponentFromContext(ctx, "command")

	name := sanitizeSubmitter(submitter)
	if name == "" {
		metrics.IncSubmission("invalid_submitter")
		return SubmitResult{}, ErrInvalidSubmitter
	}

	mediaURL := strings.TrimSpace(rawURL)
	if !validMediaURL(mediaURL) {
		metrics.IncSubmission("invalid_url")
		logger.Info().Str("submitter", name).Msg("submission rejected: unsupported URL")
		return SubmitResult{}, ErrInvalidURL
	}

	if !s.limiter.Allow(name) {
		metrics.IncSubmission("rate_limited")
		logger.Info().Str("submitter", name).Msg("submission rejected: rate limited")
		return SubmitResult{}, ErrRateLimited
	}

	item := queue.New(mediaURL, name, sanitizePromo(promo))
	position, err := s.store.Enqueue(ctx, item)
	if err != nil {
		metrics.IncSubmission("store_error")
		metrics.IncStoreError("enqueue")
		return SubmitResult{}, fmt.Errorf("enqueue: %w", err)
	}
	metrics.IncSubmission("ok")

	logger.Info().
		Str(log.FieldItemID, item.ID.String()).
		Str("submitter", name).
		Str("role", string(role)).
		Int64("position", position).
		Msg("submission queued")

	return SubmitResult{
		ID:       item.ID,
		Position: position,
		Notice:   s.firstSubmissionNotice(name),
	}, nil
}

// firstSubmissionNotice returns the copyright disclaimer exactly once
// per submitter per process lifetime.
func (s *Service) firstSubmissionNotice(submitter string) string {
	key := strings.ToLower(submitter)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.warned[key]; ok {
		return ""
	}
	s.warned[key] = struct{}{}
	return copyrightNotice
}

// Queue returns the next pending items in play order. A non-positive
// limit falls back to 5; anything above 10 is clamped.
func (s *Service) Queue(ctx context.Context, limit int) ([]*queue.Item, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}
	return s.store.Queue(ctx, limit)
}

// NowPlaying returns the item on air, or nil.
func (s *Service) NowPlaying(ctx context.Context) (*queue.Item, error) {
	return s.store.NowPlaying(ctx)
}

// Skip stops the current clip. Moderators and the broadcaster only.
func (s *Service) Skip(ctx context.Context, role auth.Role) error {
	if !role.CanSkip() {
		return fmt.Errorf("%w: skip requires moderator or broadcaster, got %s", ErrForbidden, role)
	}
	log.WithComponentFromContext(ctx, "command").
		Info().Str("role", string(role)).Msg("skip issued")
	s.skipper.Skip()
	return nil
}

// Clear drops every pending item, reporting how many went. The playing
// item is untouched. Broadcaster only.
func (s *Service) Clear(ctx context.Context, role auth.Role) (int, error) {
	if !role.CanClear() {
		return 0, fmt.Errorf("%w: clear requires broadcaster, got %s", ErrForbidden, role)
	}
	n, err := s.store.ClearPending(ctx)
	if err != nil {
		metrics.IncStoreError("clear_pending")
		return 0, fmt.Errorf("clear pending: %w", err)
	}
	log.WithComponentFromContext(ctx, "command").
		Info().Int("items", n).Str("role", string(role)).Msg("queue cleared")
	return n, nil
}

// Help returns the command vocabulary.
func (s *Service) Help() string {
	return helpText
}
