// SPDX-License-Identifier: MIT

// Package fetch resolves a submitted URL to a local media file. Two
// phases: a metadata probe that gates on duration before any bytes move,
// then a size-capped download. Both run yt-dlp in its own process group
// under a wall-clock timeout.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/streamjuke/streamjuke/internal/fsutil"
	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/metrics"
	"github.com/streamjuke/streamjuke/internal/procgroup"
	"github.com/streamjuke/streamjuke/internal/queue"
)

const (
	titleMaxRunes  = 100
	stderrTailSize = 64
)

// Config carries the fetcher's operational parameters.
type Config struct {
	MediaDir           string
	YTDLPPath          string
	MaxDurationSeconds int
	MaxFileSizeMB      int
	ProbeTimeout       time.Duration
	DownloadTimeout    time.Duration
	KillGrace          time.Duration
}

// Fetcher downloads submissions into the media directory.
type Fetcher struct {
	cfg Config
}

// New creates a Fetcher. Zero timeouts fall back to the documented
// defaults so a partially filled config stays safe.
func New(cfg Config) *Fetcher {
	if cfg.YTDLPPath == "" {
		cfg.YTDLPPath = "yt-dlp"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 300 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Fetcher{cfg: cfg}
}

// Fetch drives both phases and mutates item on success: FilePath, Title
// and DurationSeconds are filled in. On failure the item is untouched and
// the error carries the kind for the terminal status.
func (f *Fetcher) Fetch(ctx context.Context, item *queue.Item) error {
	logger := log.WithComponentFromContext(ctx, "fetch")

	info, err := f.Probe(ctx, item.URL)
	if err != nil {
		metrics.IncDownload("probe_failed")
		return err
	}

	if f.cfg.MaxDurationSeconds > 0 && info.DurationSeconds > float64(f.cfg.MaxDurationSeconds) {
		metrics.IncDownload("duration_exceeded")
		return kindErr(ErrDurationExceeded, "%.0fs over %ds limit", info.DurationSeconds, f.cfg.MaxDurationSeconds)
	}

	start := time.Now()
	path, err := f.Download(ctx, item.URL, item.ID.String())
	if err != nil {
		metrics.IncDownload(Kind(err))
		return err
	}
	metrics.IncDownload("ok")
	metrics.ObserveDownloadDuration(time.Since(start))

	if err := f.writeSidecar(item.ID.String(), info.Raw()); err != nil {
		// Sidecar is diagnostic only; a failed write never fails the item.
		logger.Warn().Err(err).Str(log.FieldItemID, item.ID.String()).Msg("probe sidecar write failed")
	}

	item.FilePath = path
	item.Title = sanitizeTitle(info.Title, titleMaxRunes)
	item.DurationSeconds = info.DurationSeconds

	logger.Info().
		Str(log.FieldItemID, item.ID.String()).
		Str(log.FieldTitle, item.Title).
		Float64(log.FieldDuration, item.DurationSeconds).
		Str(log.FieldPath, path).
		Msg("media fetched")
	return nil
}

// Probe fetches metadata without downloading media. It fails fast on
// malformed output and maps timeouts to probe_failed.
func (f *Fetcher) Probe(ctx context.Context, url string) (*ProbeInfo, error) {
	res, err := f.run(ctx, f.cfg.ProbeTimeout, BuildProbeArgs(url))
	if err != nil {
		if res != nil && res.timedOut {
			return nil, kindErr(ErrProbeFailed, "probe timed out after %s", f.cfg.ProbeTimeout)
		}
		return nil, kindErr(ErrProbeFailed, "%s", tail(res))
	}
	return parseProbe(res.stdout)
}

// Download retrieves the media file for id, returning its absolute path.
func (f *Fetcher) Download(ctx context.Context, url, id string) (string, error) {
	res, err := f.run(ctx, f.cfg.DownloadTimeout, BuildDownloadArgs(url, f.cfg.MediaDir, id, f.cfg.MaxFileSizeMB))
	if err != nil {
		if res != nil && res.timedOut {
			return "", kindErr(ErrDownloadTimeout, "download timed out after %s", f.cfg.DownloadTimeout)
		}
		return "", kindErr(ErrDownloadFailed, "%s", tail(res))
	}

	path, err := f.locate(id)
	if err != nil {
		// yt-dlp exits 0 when --max-filesize aborts the transfer; the
		// only trace is the stderr notice and the missing file.
		if res.ring.Contains("max-filesize") || res.ring.Contains("File is larger than max-filesize") {
			return "", kindErr(ErrFileTooLarge, "download aborted at %dMB cap", f.cfg.MaxFileSizeMB)
		}
		return "", err
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", kindErr(ErrDownloadFailed, "stat downloaded file: %v", err)
	}
	if f.cfg.MaxFileSizeMB > 0 && st.Size() > int64(f.cfg.MaxFileSizeMB)*1024*1024 {
		_ = os.Remove(path)
		return "", kindErr(ErrFileTooLarge, "%dMB over %dMB cap", st.Size()/(1024*1024), f.cfg.MaxFileSizeMB)
	}
	return path, nil
}

// Cleanup removes the item's media file and probe sidecar. Idempotent;
// deletes are confined to the media directory.
func (f *Fetcher) Cleanup(item *queue.Item) {
	logger := log.WithComponent("fetch")

	if item.FilePath != "" {
		if err := fsutil.RemoveWithin(f.cfg.MediaDir, item.FilePath); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, item.FilePath).Msg("media file cleanup failed")
		}
	}
	sidecar := item.ID.String() + ".info.json"
	if err := fsutil.RemoveWithin(f.cfg.MediaDir, sidecar); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, sidecar).Msg("sidecar cleanup failed")
	}
}

// locate finds the downloaded file by id prefix. The extension is
// whatever the extractor produced after merging.
func (f *Fetcher) locate(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(f.cfg.MediaDir, id+".*"))
	if err != nil {
		return "", kindErr(ErrDownloadFailed, "glob failed: %v", err)
	}
	for _, m := range matches {
		switch {
		case strings.HasSuffix(m, ".info.json"), strings.HasSuffix(m, ".part"), strings.HasSuffix(m, ".ytdl"):
			continue
		}
		return m, nil
	}
	return "", kindErr(ErrDownloadFailed, "no output file for %s", id)
}

// writeSidecar persists the raw probe document atomically next to the
// media file for operator diagnosis of later-stage failures.
func (f *Fetcher) writeSidecar(id string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	path := filepath.Join(f.cfg.MediaDir, id+".info.json")
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending sidecar: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(raw); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

// runResult captures one child run: stdout, the stderr tail and how it
// ended.
type runResult struct {
	stdout   []byte
	ring     *procgroup.LineRing
	exitCode int
	timedOut bool
}

// run executes yt-dlp in its own process group, draining both streams.
// The deadline is enforced with a two-phase group kill (SIGTERM, grace,
// SIGKILL).
func (f *Fetcher) run(ctx context.Context, timeout time.Duration, args []string) (*runResult, error) {
	logger := log.WithComponentFromContext(ctx, "fetch")

	res := &runResult{ring: procgroup.NewLineRing(stderrTailSize)}
	var stdout bytes.Buffer

	cmd := exec.Command(f.cfg.YTDLPPath, args...) // #nosec G204 -- argv built from validated config and URL
	procgroup.Set(cmd)
	cmd.Stdout = &stdout
	cmd.Stderr = res.ring

	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("start %s: %w", f.cfg.YTDLPPath, err)
	}

	logger.Debug().
		Str(log.FieldBinary, f.cfg.YTDLPPath).
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("yt-dlp started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		res.timedOut = true
		waitErr = procgroup.Terminate(cmd, waitCh, f.cfg.KillGrace)
	case <-ctx.Done():
		res.timedOut = true
		waitErr = procgroup.Terminate(cmd, waitCh, f.cfg.KillGrace)
	}

	res.stdout = stdout.Bytes()
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.exitCode = exitErr.ExitCode()
		} else {
			res.exitCode = -1
		}
		logger.Debug().
			Int(log.FieldExitCode, res.exitCode).
			Bool("timed_out", res.timedOut).
			Strs("stderr", res.ring.LastN(5)).
			Msg("yt-dlp failed")
		return res, waitErr
	}
	if res.timedOut {
		// Exited cleanly during the grace window; still a timeout.
		return res, context.DeadlineExceeded
	}
	return res, nil
}

// tail renders the stderr tail for error messages.
func tail(res *runResult) string {
	if res == nil {
		return "no output"
	}
	lines := res.ring.LastN(3)
	if len(lines) == 0 {
		return fmt.Sprintf("exit code %d", res.exitCode)
	}
	return strings.Join(lines, "; ")
}
