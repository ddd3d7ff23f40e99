// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"

	"github.com/streamjuke/streamjuke/internal/api"
	"github.com/streamjuke/streamjuke/internal/broadcast"
	"github.com/streamjuke/streamjuke/internal/cache"
	"github.com/streamjuke/streamjuke/internal/command"
	"github.com/streamjuke/streamjuke/internal/config"
	"github.com/streamjuke/streamjuke/internal/fetch"
	"github.com/streamjuke/streamjuke/internal/health"
	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/moderate"
	"github.com/streamjuke/streamjuke/internal/queue"
	"github.com/streamjuke/streamjuke/internal/ratelimit"
	"github.com/streamjuke/streamjuke/internal/telemetry"
	"github.com/streamjuke/streamjuke/internal/worker"
)

// Runtime bundles the wired daemon for the entrypoint.
type Runtime struct {
	App     *App
	Manager Manager
	Health  *health.Manager
}

// Build wires the full jukebox from configuration: stores, pipeline
// stages, command service, health checks and the HTTP surface. The
// returned runtime owns every resource through the manager's shutdown
// hooks; Build closes what it opened itself only on error.
func Build(ctx context.Context, cfg config.Config, version string) (*Runtime, error) {
	logger := log.WithComponent("bootstrap")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "streamjuke",
		ServiceVersion: version,
		Environment:    config.ParseString("JUKE_ENV", "production"),
		Protocol:       cfg.OTelProtocol,
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info().
			Str("protocol", cfg.OTelProtocol).
			Float64("sample_ratio", cfg.OTelSampleRatio).
			Msg("trace export enabled")
	}

	store, err := queue.Open(cfg.StoreBackend, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	logger.Info().Str("backend", cfg.StoreBackend).Msg("queue store ready")

	// A broken verdict cache costs repeat classifications, not
	// correctness. Degrade instead of failing startup.
	verdicts, err := cache.Open(cache.Config{
		Backend:   cfg.CacheBackend,
		RedisAddr: cfg.RedisAddr,
		BadgerDir: cfg.BadgerDir,
	})
	if err != nil {
		logger.Warn().Err(err).Str("backend", cfg.CacheBackend).Msg("verdict cache unavailable, moderation results will not be cached")
		verdicts = nil
	} else {
		logger.Info().Str("backend", cfg.CacheBackend).Msg("verdict cache ready")
	}

	fetcher := fetch.New(fetch.Config{
		MediaDir:           cfg.MediaDir,
		YTDLPPath:          cfg.YTDLPPath,
		MaxDurationSeconds: cfg.MaxDurationSeconds,
		MaxFileSizeMB:      cfg.MaxFileSizeMB,
		ProbeTimeout:       cfg.ProbeTimeout,
		DownloadTimeout:    cfg.DownloadTimeout,
	})

	gate := moderate.NewGate(moderate.GateConfig{
		ModelDir:     cfg.ModelDir,
		Threshold:    cfg.NSFWThreshold,
		EmbedderArgv: cfg.EmbedderArgv(),
		FilterScript: cfg.FilterScript,
		FFmpegPath:   cfg.FFmpegPath,
		CheckTimeout: cfg.ModerationTimeout,
		VerdictTTL:   cfg.VerdictTTL,
	}, verdicts)

	sink := broadcast.New(broadcast.Config{
		FFmpegPath: cfg.FFmpegPath,
		SinkURL:    cfg.SinkURL(),
		Profile: broadcast.EncodeProfile{
			Preset:       cfg.Preset,
			VideoBitrate: cfg.VideoBitrate,
			AudioBitrate: cfg.AudioBitrate,
		},
		IdleImage: cfg.IdleImage,
		SkipGrace: cfg.SkipGrace,
	})

	pipeline := worker.New(store, fetcher, gate, sink, worker.Config{
		IdleInterval:   cfg.IdleInterval,
		FailureBackoff: cfg.FailureBackoff,
	})

	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.SubmitRate,
		Burst:     cfg.SubmitBurst,
	})
	commands := command.New(store, limiter, pipeline)

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewStoreChecker(func(ctx context.Context) error {
		_, err := store.PendingCount(ctx)
		return err
	}))
	healthMgr.RegisterChecker(health.NewSinkChecker(cfg.SinkURL))
	healthMgr.RegisterChecker(health.NewClassifierChecker(gate.Ready))
	healthMgr.RegisterChecker(health.Informational(health.NewWritableDirChecker("media_dir", cfg.MediaDir)))

	apiServer := api.New(api.Config{
		Addr:          cfg.APIAddr,
		Token:         cfg.APIToken,
		RatePerMinute: cfg.APIRate,
	}, commands, healthMgr)

	mgr, err := NewManager(DefaultServerConfig(cfg.APIAddr), Deps{
		Logger:     log.WithComponent("daemon"),
		APIHandler: apiServer.Handler(),
		Pipeline:   pipeline,
		Store:      store,
		Verdicts:   verdicts,
	})
	if err != nil {
		if verdicts != nil {
			_ = verdicts.Close()
		}
		_ = store.Close()
		return nil, fmt.Errorf("daemon manager: %w", err)
	}

	// First registered runs last: traces flush after everything else
	// has said its goodbyes.
	mgr.RegisterShutdownHook("telemetry_flush", provider.Shutdown)
	mgr.RegisterShutdownHook("moderation_gate_close", func(context.Context) error {
		return gate.Close()
	})

	app := NewApp(log.WithComponent("app"), mgr, gate)

	return &Runtime{
		App:     app,
		Manager: mgr,
		Health:  healthMgr,
	}, nil
}
