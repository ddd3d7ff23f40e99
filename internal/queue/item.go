// SPDX-License-Identifier: MIT

// Package queue persists the submission FIFO. Items move along a strict
// status graph; the worker is the only mutator after submission.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPlaying     Status = "playing"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusPlaying, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal rows are kept for
// history but never reconsidered.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// transitions is the full status graph. Unknown edges are errors; the
// stores refuse to persist them.
var transitions = map[Status][]Status{
	StatusPending:     {StatusDownloading},
	StatusDownloading: {StatusPlaying, StatusFailed},
	StatusPlaying:     {StatusDone, StatusFailed},
}

// ValidateTransition returns an error unless from -> to is a known edge.
func ValidateTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Item is the sole persistent entity: one submitted URL and everything
// learned about it on the way to the sink.
type Item struct {
	ID              uuid.UUID
	URL             string
	FilePath        string
	Title           string
	DurationSeconds float64
	SubmittedBy     string
	SubmittedAt     time.Time
	Status          Status
	ErrorMessage    string
	PromoLink       string
	Position        int64
}

// New builds a pending item for a fresh submission. Title stays "Unknown"
// until the probe fills it in.
func New(url, submittedBy, promoLink string) *Item {
	return &Item{
		ID:          uuid.New(),
		URL:         url,
		Title:       "Unknown",
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:      StatusPending,
		PromoLink:   promoLink,
	}
}
