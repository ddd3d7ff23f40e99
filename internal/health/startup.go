// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/streamjuke/streamjuke/internal/config"
	"github.com/streamjuke/streamjuke/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. Failures returned here are fatal; everything else is logged as a
// warning so the operator sees degraded modes at boot rather than mid-show.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := ensureMediaDir(logger, cfg.MediaDir); err != nil {
		return fmt.Errorf("media directory check failed: %w", err)
	}

	if err := checkListenAddr(logger, cfg.APIAddr); err != nil {
		return fmt.Errorf("api listen address check failed: %w", err)
	}

	checkBinaries(logger, cfg)

	if err := checkModeration(logger, cfg); err != nil {
		return fmt.Errorf("moderation check failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func ensureMediaDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Media directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("✓ API listen address is valid")
	return nil
}

// checkBinaries reports missing pipeline binaries. Missing binaries are not
// fatal at boot: items fail individually with a recorded reason, and the
// operator may install the tool without restarting.
func checkBinaries(logger zerolog.Logger, cfg config.Config) {
	for _, bin := range []string{cfg.YTDLPPath, cfg.FFmpegPath, cfg.FFprobePath} {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			logger.Warn().Str("binary", bin).Msg("pipeline binary not found on PATH; items will fail until installed")
			continue
		}
		logger.Info().Str("binary", bin).Msg("✓ Pipeline binary available")
	}
}

// checkModeration enforces the classifier bootstrap contract: a configured
// embedder that cannot start is fatal unless a fallback script exists.
func checkModeration(logger zerolog.Logger, cfg config.Config) error {
	argv := cfg.EmbedderArgv()

	if len(argv) == 0 {
		if cfg.FilterScript == "" {
			logger.Warn().Msg("no embedder or filter script configured; all submissions will be approved")
		} else {
			logger.Info().Str("script", cfg.FilterScript).Msg("✓ Moderation via fallback script only")
		}
		return nil
	}

	if _, err := exec.LookPath(argv[0]); err != nil {
		if cfg.FilterScript == "" {
			return fmt.Errorf("embedder binary %q not found and no filter script configured: %w", argv[0], err)
		}
		logger.Warn().
			Str("binary", argv[0]).
			Str("script", cfg.FilterScript).
			Msg("embedder binary not found; falling back to filter script")
		return nil
	}

	logger.Info().Str("binary", argv[0]).Msg("✓ Embedder binary available")
	return nil
}
