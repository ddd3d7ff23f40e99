// SPDX-License-Identifier: MIT

// Package ratelimit throttles chat submissions per submitter with
// token buckets. HTTP-level request limiting is httprate's job; this
// guards the queue itself.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "juke",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total rate limit rejections",
	},
	[]string{"limit_type"},
)

// Config holds submission rate limiting configuration.
type Config struct {
	// PerMinute is the sustained submissions allowed per submitter.
	PerMinute float64
	// Burst is the instantaneous allowance per submitter.
	Burst int
	// CleanupInterval bounds how long idle submitter buckets are kept.
	CleanupInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PerMinute:       3,
		Burst:           2,
		CleanupInterval: 10 * time.Minute,
	}
}

// SubmitLimiter manages one token bucket per submitter.
type SubmitLimiter struct {
	config Config

	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	lastCleanup time.Time
}

// New creates a SubmitLimiter. Non-positive config values fall back to
// the defaults.
func New(config Config) *SubmitLimiter {
	def := DefaultConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = def.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	return &SubmitLimiter{
		config:      config,
		buckets:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether the submitter may submit now. Submitters are
// case-folded so casing cannot mint fresh buckets.
func (l *SubmitLimiter) Allow(submitter string) bool {
	key := strings.ToLower(strings.TrimSpace(submitter))

	l.mu.Lock()
	l.maybeCleanupLocked()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(l.config.PerMinute/60.0), l.config.Burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	if !bucket.Allow() {
		rateLimitExceeded.WithLabelValues("per_submitter").Inc()
		return false
	}
	return true
}

// maybeCleanupLocked drops all buckets once the interval passed. A
// dropped bucket refills to full burst, which is acceptable slack at
// chat submission rates.
func (l *SubmitLimiter) maybeCleanupLocked() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.buckets = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}
