// SPDX-License-Identifier: MIT

// Package worker drives the pipeline: a single goroutine takes the
// head of the queue through download, moderation and broadcast, one
// item at a time. Failures end on the item, never in the loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rs/zerolog"

	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/metrics"
	"github.com/streamjuke/streamjuke/internal/moderate"
	"github.com/streamjuke/streamjuke/internal/queue"
	"github.com/streamjuke/streamjuke/internal/telemetry"
)

// skippedReason is the terminal error detail for moderator skips. It is
// a distinct kind so skips stay countable apart from encoder failures.
const skippedReason = "skipped"

// Fetcher downloads a submission's media and enriches the item.
type Fetcher interface {
	Fetch(ctx context.Context, item *queue.Item) error
	Cleanup(item *queue.Item)
}

// Gate decides whether a downloaded file may go on air.
type Gate interface {
	Check(ctx context.Context, item *queue.Item) moderate.Verdict
}

// Sink plays media to the configured output.
type Sink interface {
	StreamFile(ctx context.Context, path, title, submitter, promo string) (completed bool, err error)
	StreamIdle(ctx context.Context, d time.Duration) error
	Skip()
}

// Config carries the loop's pacing knobs.
type Config struct {
	IdleInterval   time.Duration // filler length when the queue is empty
	FailureBackoff time.Duration // pause after an exceptional failure
}

// Worker is the pipeline driver. Exactly one item is in flight at any
// time; ordering follows queue position.
type Worker struct {
	store   queue.Store
	fetcher Fetcher
	gate    Gate
	sink    Sink
	cfg     Config
}

// New creates a Worker. Zero pacing values fall back to the documented
// defaults.
func New(store queue.Store, fetcher Fetcher, gate Gate, sink Sink, cfg Config) *Worker {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 30 * time.Second
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 5 * time.Second
	}
	return &Worker{store: store, fetcher: fetcher, gate: gate, sink: sink, cfg: cfg}
}

// Skip stops the clip currently on air, if any.
func (w *Worker) Skip() {
	w.sink.Skip()
}

// Run repairs crash remnants, then loops until ctx is cancelled. The
// returned error is the ctx error on shutdown, or the repair error when
// the store is unusable at startup.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithComponent("worker")

	repaired, err := w.store.RepairInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("startup repair: %w", err)
	}
	if repaired > 0 {
		logger.Warn().Int("items", repaired).Msg("repaired interrupted items from previous run")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.updatePendingGauge(ctx)

		item, err := w.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IncStoreError("dequeue")
			logger.Error().Err(err).Msg("dequeue failed")
			w.backoff(ctx)
			continue
		}

		if item == nil {
			if err := w.sink.StreamIdle(ctx, w.cfg.IdleInterval); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn().Err(err).Msg("idle filler failed")
			}
			continue
		}

		w.process(ctx, item)
	}
}

// process takes one item through the full pipeline. Panics are caught
// at this boundary so a poisoned item can never take the loop down.
func (w *Worker) process(ctx context.Context, item *queue.Item) {
	tracer := telemetry.Tracer("juke.worker")
	ctx, span := tracer.Start(ctx, "juke.worker.item")
	defer span.End()
	span.SetAttributes(telemetry.ItemAttributes(item.ID.String(), item.URL)...)

	ctx = log.ContextWithItemID(ctx, item.ID.String())
	logger := log.WithComponentFromContext(ctx, "worker")

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("internal_error: %v", r)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Str(log.FieldReason, fmt.Sprint(r)).Msg("pipeline stage panicked")
		w.fail(ctx, item, err.Error())
		w.backoff(ctx)
	}()

	if err := w.store.UpdateStatus(ctx, item.ID, queue.StatusDownloading, ""); err != nil {
		w.storeError(ctx, logger, "update_status", err)
		return
	}

	if err := w.fetcher.Fetch(ctx, item); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-download: the row stays in downloading and
			// is repaired to failed("interrupted") on next startup.
			w.fetcher.Cleanup(item)
			return
		}
		w.fail(ctx, item, err.Error())
		return
	}

	verdict := w.gate.Check(ctx, item)
	if ctx.Err() != nil {
		w.fetcher.Cleanup(item)
		return
	}
	if !verdict.Approved {
		w.fail(ctx, item, verdict.ErrorKind())
		return
	}

	if err := w.store.UpdateEnrichment(ctx, item.ID, item.FilePath, item.Title, item.DurationSeconds); err != nil {
		w.storeError(ctx, logger, "update_enrichment", err)
		w.fetcher.Cleanup(item)
		return
	}
	if err := w.store.UpdateStatus(ctx, item.ID, queue.StatusPlaying, ""); err != nil {
		w.storeError(ctx, logger, "update_status", err)
		w.fetcher.Cleanup(item)
		return
	}

	span.SetAttributes(telemetry.MediaAttributes(item.Title, item.DurationSeconds)...)
	logger.Info().
		Str(log.FieldTitle, item.Title).
		Str(log.FieldPath, item.FilePath).
		Float64(log.FieldDuration, item.DurationSeconds).
		Msg("on air")

	completed, err := w.sink.StreamFile(ctx, item.FilePath, item.Title, item.SubmittedBy, item.PromoLink)
	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown mid-stream: the file goes now, the playing row is
		// repaired on next startup.
		w.fetcher.Cleanup(item)
	case err != nil:
		w.fail(ctx, item, err.Error())
	case completed:
		w.finish(ctx, item)
	default:
		w.fail(ctx, item, skippedReason)
	}
}

// fail drives the item to failed with the given reason and removes its
// media from disk.
func (w *Worker) fail(ctx context.Context, item *queue.Item, reason string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.OutcomeAttributes("failed", reason)...)

	logger := log.WithComponentFromContext(ctx, "worker")
	logger.Warn().Str(log.FieldReason, reason).Msg("item failed")

	if err := w.store.UpdateStatus(ctx, item.ID, queue.StatusFailed, reason); err != nil {
		metrics.IncStoreError("update_status")
		logger.Error().Err(err).Msg("terminal status write failed")
	}
	w.fetcher.Cleanup(item)
}

// finish drives the item to done and removes its media from disk.
func (w *Worker) finish(ctx context.Context, item *queue.Item) {
	trace.SpanFromContext(ctx).SetAttributes(telemetry.OutcomeAttributes("done", "")...)

	logger := log.WithComponentFromContext(ctx, "worker")
	logger.Info().Str(log.FieldTitle, item.Title).Msg("item completed")

	if err := w.store.UpdateStatus(ctx, item.ID, queue.StatusDone, ""); err != nil {
		metrics.IncStoreError("update_status")
		logger.Error().Err(err).Msg("terminal status write failed")
	}
	w.fetcher.Cleanup(item)
}

// storeError handles a failed store write mid-pipeline: the transition
// is abandoned, the loop pauses, and the item is left for startup
// repair or a later dequeue.
func (w *Worker) storeError(ctx context.Context, logger zerolog.Logger, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.IncStoreError(op)
	logger.Error().Err(err).Str("op", op).Msg("store write failed")
	w.backoff(ctx)
}

// backoff pauses the loop after an exceptional failure so a persistent
// fault cannot spin it.
func (w *Worker) backoff(ctx context.Context) {
	metrics.IncWorkerBackoff()
	timer := time.NewTimer(w.cfg.FailureBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) updatePendingGauge(ctx context.Context) {
	n, err := w.store.PendingCount(ctx)
	if err != nil {
		return
	}
	metrics.SetQueuePending(n)
}
