// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePending tracks the number of items waiting to be played.
	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "juke_queue_pending",
		Help: "Number of pending items in the queue",
	})

	// SubmissionsTotal counts submission attempts by outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_submissions_total",
		Help: "Total submission attempts by result",
	}, []string{"result"})

	// DownloadsTotal counts fetch outcomes.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_downloads_total",
		Help: "Total fetch attempts by result",
	}, []string{"result"})

	// DownloadDuration tracks the wall-clock time of the download phase.
	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "juke_download_duration_seconds",
		Help:    "Wall-clock duration of the download phase",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 300},
	})

	// ModerationTotal counts admission gate outcomes by verdict and policy.
	ModerationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_moderation_total",
		Help: "Total admission gate checks by verdict and deciding policy",
	}, []string{"verdict", "policy"})

	// ModerationDuration tracks the wall-clock time of a gate check.
	ModerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "juke_moderation_duration_seconds",
		Help:    "Wall-clock duration of an admission gate check",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
	})

	// StreamsTotal counts broadcast outcomes.
	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_streams_total",
		Help: "Total clip broadcasts by result",
	}, []string{"result"})

	// StreamDuration tracks how long each clip was on air.
	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "juke_stream_duration_seconds",
		Help:    "On-air duration of a clip broadcast",
		Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 600},
	})

	// IdleStreamsTotal counts idle filler runs.
	IdleStreamsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "juke_idle_streams_total",
		Help: "Total idle filler broadcasts",
	})

	// EncoderStartRetriesTotal counts transient encoder start retries.
	EncoderStartRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "juke_encoder_start_retries_total",
		Help: "Total encoder start retries after transient failures",
	})

	// VerdictCacheTotal counts verdict cache lookups by outcome.
	VerdictCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_verdict_cache_total",
		Help: "Total verdict cache lookups by outcome",
	}, []string{"outcome"})

	// StoreErrorsTotal counts queue store failures by operation.
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_store_errors_total",
		Help: "Total queue store errors by operation",
	}, []string{"op"})

	// WorkerBackoffsTotal counts worker failure backoffs.
	WorkerBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "juke_worker_backoffs_total",
		Help: "Total worker loop backoffs after unexpected failures",
	})
)

// SetQueuePending records the current pending queue depth.
func SetQueuePending(n int) {
	QueuePending.Set(float64(n))
}

// IncSubmission records a submission attempt outcome.
func IncSubmission(result string) {
	SubmissionsTotal.WithLabelValues(result).Inc()
}

// IncDownload records a fetch outcome.
func IncDownload(result string) {
	DownloadsTotal.WithLabelValues(result).Inc()
}

// ObserveDownloadDuration records the duration of a download phase.
func ObserveDownloadDuration(d time.Duration) {
	DownloadDuration.Observe(d.Seconds())
}

// IncModeration records an admission gate outcome.
func IncModeration(approved bool, policy string) {
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	ModerationTotal.WithLabelValues(verdict, policy).Inc()
}

// ObserveModerationDuration records the duration of a gate check.
func ObserveModerationDuration(d time.Duration) {
	ModerationDuration.Observe(d.Seconds())
}

// IncStream records a broadcast outcome.
func IncStream(result string) {
	StreamsTotal.WithLabelValues(result).Inc()
}

// ObserveStreamDuration records the on-air duration of a clip.
func ObserveStreamDuration(d time.Duration) {
	StreamDuration.Observe(d.Seconds())
}

// IncIdleStream records an idle filler run.
func IncIdleStream() {
	IdleStreamsTotal.Inc()
}

// IncEncoderStartRetry records a transient encoder start retry.
func IncEncoderStartRetry() {
	EncoderStartRetriesTotal.Inc()
}

// IncVerdictCache records a verdict cache lookup outcome.
func IncVerdictCache(outcome string) {
	VerdictCacheTotal.WithLabelValues(outcome).Inc()
}

// IncStoreError records a queue store failure.
func IncStoreError(op string) {
	StoreErrorsTotal.WithLabelValues(op).Inc()
}

// IncWorkerBackoff records a worker loop backoff.
func IncWorkerBackoff() {
	WorkerBackoffsTotal.Inc()
}
