// SPDX-License-Identifier: MIT

// Package broadcast owns the RTMP sink. It runs at most one ffmpeg
// child at a time: the current clip with its attribution overlay, or
// the idle still between clips. The Worker is the only caller.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/metrics"
	"github.com/streamjuke/streamjuke/internal/procgroup"
)

const stderrRingSize = 64

// ErrEncoderFailed is the kind recorded on the item when the encoder
// fails terminally; the wrapped text carries the stderr tail.
var ErrEncoderFailed = errors.New("encoder_failed")

// Config carries the broadcaster's operational parameters.
type Config struct {
	FFmpegPath string
	SinkURL    string
	Profile    EncodeProfile
	IdleImage  string
	SkipGrace  time.Duration
}

// Broadcaster streams clips and idle filler to the configured sink.
type Broadcaster struct {
	cfg       Config
	retryBase time.Duration

	mu      sync.Mutex
	current *clip // active clip child; nil while idle or between clips
}

// clip is the supervision handle for one running clip child.
type clip struct {
	cmd     *exec.Cmd
	done    chan struct{} // closed once the child is reaped
	skipped atomic.Bool
	ring    *procgroup.LineRing
}

// New creates a Broadcaster. Defaults are filled so a partially
// populated config stays safe.
func New(cfg Config) *Broadcaster {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SkipGrace <= 0 {
		cfg.SkipGrace = 5 * time.Second
	}
	return &Broadcaster{cfg: cfg, retryBase: baseBackoff}
}

// StreamFile plays one clip to the sink with the attribution overlay
// burned in. It returns (true, nil) on a clean end-of-file exit,
// (false, nil) when the clip was skipped, and (false, err) when the
// encoder failed. Transient sink failures inside the start window are
// retried with exponential backoff; a skip or mid-stream failure never
// is.
func (b *Broadcaster) StreamFile(ctx context.Context, path, title, submitter, promo string) (bool, error) {
	overlay := BuildOverlayFilter(title, submitter, promo)
	args, err := BuildStreamArgs(b.cfg.Profile, path, overlay, b.cfg.SinkURL)
	if err != nil {
		return false, err
	}

	logger := log.WithComponentFromContext(ctx, "broadcast")

	for attempt := 0; ; attempt++ {
		start := time.Now()
		skipped, tail, runErr := b.runClip(ctx, args)
		runtime := time.Since(start)

		if skipped {
			metrics.IncStream("skipped")
			logger.Info().Str(log.FieldPath, path).Dur("runtime", runtime).Msg("clip skipped")
			return false, nil
		}
		if runErr == nil {
			metrics.IncStream("ok")
			metrics.ObserveStreamDuration(runtime)
			logger.Info().Str(log.FieldPath, path).Dur("runtime", runtime).Msg("clip completed")
			return true, nil
		}
		if ctx.Err() != nil {
			metrics.IncStream("interrupted")
			return false, ctx.Err()
		}

		if attempt >= maxStartRetries || runtime > startWindow || !isTransientStartFailure(tail) {
			metrics.IncStream("encoder_failed")
			return false, fmt.Errorf("%w: %s", ErrEncoderFailed, renderTail(tail, runErr))
		}

		delay := backoffDelay(b.retryBase, attempt)
		metrics.IncEncoderStartRetry()
		logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Strs("stderr", tail).
			Msg("transient sink failure at start, retrying")

		select {
		case <-ctx.Done():
			metrics.IncStream("interrupted")
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runClip runs one encoder attempt. The returned tail is the last
// stderr lines for retry classification and error reports.
func (b *Broadcaster) runClip(ctx context.Context, args []string) (skipped bool, tail []string, err error) {
	c := &clip{
		done: make(chan struct{}),
		ring: procgroup.NewLineRing(stderrRingSize),
	}

	cmd := exec.Command(b.cfg.FFmpegPath, args...) // #nosec G204 -- argv from builders, never a shell
	procgroup.Set(cmd)
	cmd.Stdout = c.ring
	cmd.Stderr = c.ring
	c.cmd = cmd

	b.mu.Lock()
	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		close(c.done)
		return false, nil, fmt.Errorf("start %s: %w", b.cfg.FFmpegPath, err)
	}
	b.current = c
	b.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "broadcast")
	logger.Debug().
		Str(log.FieldBinary, b.cfg.FFmpegPath).
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("encoder started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		waitErr = procgroup.Terminate(cmd, waitCh, b.cfg.SkipGrace)
		if waitErr == nil {
			waitErr = ctx.Err()
		}
	}
	close(c.done)

	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()

	if c.skipped.Load() {
		return true, c.ring.LastN(5), nil
	}
	return false, c.ring.LastN(5), waitErr
}

// Skip asks the active clip's child to stop: SIGTERM to the group,
// grace, then SIGKILL. Idempotent, returns immediately, and a no-op
// when nothing (or only idle filler) is playing.
func (b *Broadcaster) Skip() {
	b.mu.Lock()
	c := b.current
	b.mu.Unlock()

	if c == nil {
		return
	}
	if !c.skipped.CompareAndSwap(false, true) {
		return // escalation already in flight
	}

	logger := log.WithComponent("broadcast")
	logger.Info().Int(log.FieldPID, c.cmd.Process.Pid).Msg("skip requested, terminating clip")
	metrics.IncProcTerminate("SIGTERM", "skip")

	_ = procgroup.Kill(c.cmd, syscall.SIGTERM)

	grace := b.cfg.SkipGrace
	go func() {
		select {
		case <-c.done:
			return
		case <-time.After(grace):
		}
		logger.Warn().Int(log.FieldPID, c.cmd.Process.Pid).Msg("skip grace exceeded, killing clip")
		_ = procgroup.Kill(c.cmd, syscall.SIGKILL)
	}()
}

// StreamIdle plays the idle still with silent audio for roughly d. A
// missing idle image, or an encoder failure, degrades to sleeping out
// the interval so the caller keeps its cadence instead of spinning.
func (b *Broadcaster) StreamIdle(ctx context.Context, d time.Duration) error {
	logger := log.WithComponentFromContext(ctx, "broadcast")
	start := time.Now()

	if _, err := os.Stat(b.cfg.IdleImage); err != nil {
		logger.Warn().Str(log.FieldPath, b.cfg.IdleImage).Msg("idle image missing, sleeping instead")
		return sleepRemainder(ctx, d, start)
	}

	seconds := int(d / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	args, err := BuildIdleArgs(b.cfg.Profile, b.cfg.IdleImage, seconds, b.cfg.SinkURL)
	if err != nil {
		return err
	}

	metrics.IncIdleStream()

	ring := procgroup.NewLineRing(stderrRingSize)
	cmd := exec.Command(b.cfg.FFmpegPath, args...) // #nosec G204 -- argv from builders, never a shell
	procgroup.Set(cmd)
	cmd.Stdout = ring
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		logger.Warn().Err(err).Msg("idle encoder failed to start, sleeping instead")
		return sleepRemainder(ctx, d, start)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, b.cfg.SkipGrace)
		return ctx.Err()
	}

	if waitErr != nil {
		logger.Warn().
			Strs("stderr", ring.LastN(3)).
			Msg("idle encoder failed, sleeping out the interval")
		if err := sleepRemainder(ctx, d, start); err != nil {
			return err
		}
		return fmt.Errorf("idle encoder: %s", strings.Join(ring.LastN(3), "; "))
	}
	return nil
}

// sleepRemainder sleeps whatever is left of the idle interval.
func sleepRemainder(ctx context.Context, d time.Duration, start time.Time) error {
	left := d - time.Since(start)
	if left <= 0 {
		return nil
	}
	timer := time.NewTimer(left)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// renderTail folds the stderr tail into one error string.
func renderTail(tail []string, err error) string {
	if len(tail) == 0 {
		return err.Error()
	}
	return strings.Join(tail, "; ")
}
