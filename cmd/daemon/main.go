// SPDX-License-Identifier: MIT

// The daemon runs the jukebox: it drains the submission queue through
// download, moderation and broadcast while serving the HTTP command
// surface for chat adapters.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/streamjuke/streamjuke/internal/config"
	"github.com/streamjuke/streamjuke/internal/daemon"
	"github.com/streamjuke/streamjuke/internal/health"
	"github.com/streamjuke/streamjuke/internal/log"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskSinkURL strips credentials and the stream key from a sink URL so
// it can be logged. The key travels in the RTMP path, so everything
// past the host is dropped.
func maskSinkURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsed.User = nil
	parsed.Path = ""
	parsed.RawQuery = ""
	return parsed.String()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Precedence: ENV > file > defaults. An empty path falls back to
	// JUKE_CONFIG inside Load.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// The base logger is installed at init; the merged config can still
	// tighten or loosen the level.
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	if err := config.EnsureDirs(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.dirs_failed").
			Msg("failed to create data directories")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.APIAddr).
		Msg("starting streamjuke")

	logger.Info().Msgf("→ Queue store: %s", storeSummary(cfg))
	logger.Info().Msgf("→ Media dir: %s", cfg.MediaDir)
	logger.Info().Msgf("→ Sink: %s", maskSinkURL(cfg.SinkURL()))
	logger.Info().Msgf("→ Caps: %ds max duration, %dMB max file", cfg.MaxDurationSeconds, cfg.MaxFileSizeMB)
	logger.Info().Msgf("→ Verdict cache: %s", cfg.CacheBackend)
	switch {
	case len(cfg.EmbedderArgv()) > 0:
		logger.Info().Msgf("→ Moderation: classifier (threshold %.2f)", cfg.NSFWThreshold)
	case cfg.FilterScript != "":
		logger.Info().Msgf("→ Moderation: filter script %s", cfg.FilterScript)
	default:
		logger.Warn().Msg("→ Moderation: NOT configured, every submission will be approved")
	}
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured (auth disabled), set JUKE_API_TOKEN")
	}

	rt, err := daemon.Build(ctx, cfg, version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "bootstrap.failed").
			Msg("failed to build daemon")
	}

	if err := rt.App.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}

func storeSummary(cfg config.Config) string {
	if cfg.StoreBackend == "sqlite" {
		return fmt.Sprintf("sqlite (%s)", cfg.DBPath)
	}
	return cfg.StoreBackend
}
