// SPDX-License-Identifier: MIT

package helpers

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamjuke/streamjuke/internal/config"
	"github.com/streamjuke/streamjuke/internal/daemon"
)

// Options configures the in-process daemon under test. Subprocess paths
// must point at fakes; see scripts.go.
type Options struct {
	YTDLPPath    string
	FFmpegPath   string
	FilterScript string
	APIToken     string
}

// Daemon is one running in-process jukebox.
type Daemon struct {
	BaseURL  string
	Token    string
	MediaDir string

	cancel context.CancelFunc
	done   chan error
}

// StartDaemon builds the full runtime on memory backends and a reserved
// loopback port, runs it, and blocks until /readyz answers.
func StartDaemon(t *testing.T, opts Options) *Daemon {
	t.Helper()

	if opts.APIToken == "" {
		opts.APIToken = "test-adapter-token"
	}

	addr := ReserveAddr(t)
	cfg := config.Defaults()
	cfg.StoreBackend = "memory"
	cfg.CacheBackend = "memory"
	cfg.MediaDir = t.TempDir()
	cfg.RTMPURL = "rtmp://ingest.test/live/integration"
	cfg.APIAddr = addr
	cfg.APIToken = opts.APIToken
	// Polling suites must never trip the per-IP limiter.
	cfg.APIRate = 10000
	cfg.SubmitRate = 3
	cfg.SubmitBurst = 2
	cfg.YTDLPPath = opts.YTDLPPath
	cfg.FFmpegPath = opts.FFmpegPath
	cfg.FilterScript = opts.FilterScript
	// A missing idle image makes filler intervals sleep instead of
	// spawning the encoder.
	cfg.IdleImage = filepath.Join(t.TempDir(), "missing.png")
	cfg.IdleInterval = 50 * time.Millisecond
	cfg.FailureBackoff = 20 * time.Millisecond
	cfg.SkipGrace = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := daemon.Build(ctx, cfg, "test")
	if err != nil {
		cancel()
		t.Fatalf("build daemon: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.App.Run(ctx) }()

	d := &Daemon{
		BaseURL:  "http://" + addr,
		Token:    opts.APIToken,
		MediaDir: cfg.MediaDir,
		cancel:   cancel,
		done:     done,
	}
	WaitReady(t, d.BaseURL)
	return d
}

// Stop shuts the daemon down and fails the test on an unclean exit.
func (d *Daemon) Stop(t *testing.T) {
	t.Helper()
	d.cancel()
	select {
	case err := <-d.done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

// ReserveAddr grabs a free loopback port. The listener is closed before
// returning so the address can be handed to the daemon's server.
func ReserveAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// WaitReady polls /readyz until it serves a 200.
func WaitReady(t *testing.T, baseURL string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := httpClient.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 15*time.Second, 25*time.Millisecond, "daemon never became ready")
}
