// SPDX-License-Identifier: MIT

package moderate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/procgroup"
)

// Sampling constants. One frame per second, hard-capped, scored in
// batches so the embedder's request size stays bounded.
const (
	SampleFPS      = 1
	MaxFrames      = 200
	BatchSize      = 32
	framePattern   = "frame-%05d.jpg"
	frameKillGrace = 5 * time.Second
)

// videoExts are the containers sampled as video; anything else is
// scored as a single image.
var videoExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// IsVideo reports whether path is sampled frame-by-frame.
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// FrameSampler extracts still frames from a clip with ffmpeg.
type FrameSampler struct {
	FFmpegPath string
	Timeout    time.Duration
}

// NewFrameSampler returns a sampler with defaults filled in.
func NewFrameSampler(ffmpegPath string, timeout time.Duration) *FrameSampler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FrameSampler{FFmpegPath: ffmpegPath, Timeout: timeout}
}

// BuildSampleArgs constructs the extraction invocation: fps-filtered
// stills, capped frame count, quiet logging.
func BuildSampleArgs(input, outDir string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vf", fmt.Sprintf("fps=%d", SampleFPS),
		"-frames:v", fmt.Sprintf("%d", MaxFrames),
		"-f", "image2",
		filepath.Join(outDir, framePattern),
	}
}

// Sample extracts frames into a fresh temp dir and returns the frame
// paths in order plus a cleanup func that removes the dir. The caller
// must invoke cleanup regardless of the scoring outcome.
func (f *FrameSampler) Sample(ctx context.Context, input string) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "juke-frames-")
	if err != nil {
		return nil, func() {}, fmt.Errorf("create frame dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger := log.WithComponent("moderate")
			logger.Warn().Err(err).Str(log.FieldPath, tmpDir).Msg("frame dir cleanup failed")
		}
	}

	if err := f.run(ctx, BuildSampleArgs(input, tmpDir)); err != nil {
		cleanup()
		return nil, func() {}, err
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "frame-*.jpg"))
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("list frames: %w", err)
	}
	if len(matches) == 0 {
		cleanup()
		return nil, func() {}, fmt.Errorf("no frames extracted from %s", filepath.Base(input))
	}
	sort.Strings(matches)
	return matches, cleanup, nil
}

func (f *FrameSampler) run(ctx context.Context, args []string) error {
	ring := procgroup.NewLineRing(32)

	cmd := exec.Command(f.FFmpegPath, args...) // #nosec G204 -- argv built from constants and a store-tracked file path
	procgroup.Set(cmd)
	cmd.Stdout = ring
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", f.FFmpegPath, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(f.Timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		_ = procgroup.Terminate(cmd, waitCh, frameKillGrace)
		return fmt.Errorf("frame extraction timed out after %s", f.Timeout)
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, frameKillGrace)
		return ctx.Err()
	}

	if waitErr != nil {
		return fmt.Errorf("frame extraction failed: %s", strings.Join(ring.LastN(3), "; "))
	}
	return nil
}
