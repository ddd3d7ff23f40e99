// SPDX-License-Identifier: MIT

// Package daemon owns process lifecycle: it starts the HTTP command
// surface and the pipeline loop, then shuts both down in order when the
// run context ends or a server fails.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownHook performs one cleanup step during graceful shutdown.
// Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Manager runs the daemon until shutdown.
type Manager interface {
	// Start starts the servers and the pipeline, then blocks until the
	// context is cancelled or a server fails.
	Start(ctx context.Context) error

	// Shutdown drains the HTTP server and runs the shutdown hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook adds a named cleanup step. Hooks registered
	// first run last, so resource owners register before Start.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	serverCfg ServerConfig
	deps      Deps

	apiServer *http.Server

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a daemon manager. Zero server timeouts fall back
// to the defaults.
func NewManager(serverCfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		serverCfg:     serverCfg.withDefaults(),
		deps:          deps,
		logger:        deps.Logger.With().Str("component", "daemon").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start starts the pipeline and the API server and blocks until the
// context is cancelled or a server fails. Either way it runs a bounded
// shutdown before returning.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.serverCfg.ListenAddr).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon")

	errChan := make(chan error, 2)

	// Close hooks are registered before the pipeline's stop hook so the
	// stores outlive the loop that uses them.
	m.registerRuntimeCloseHooks()

	if m.deps.Pipeline != nil {
		m.startPipeline(ctx, errChan)
	}

	m.startAPIServer(errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		// Detached but bounded: shutdown must complete even when the
		// parent context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// startAPIServer starts the HTTP command surface.
func (m *manager) startAPIServer(errChan chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.serverCfg.ListenAddr,
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}

	go func() {
		m.logger.Info().
			Str("addr", m.serverCfg.ListenAddr).
			Msg("api server listening")

		if err := m.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "api.server.failed").
				Msg("api server failed")
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
}

// startPipeline launches the pipeline loop and registers the stop hook
// that cancels it and waits for the loop to return.
func (m *manager) startPipeline(ctx context.Context, errChan chan<- error) {
	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	pipelineDone := make(chan error, 1)

	m.RegisterShutdownHook("pipeline_stop", func(shutdownCtx context.Context) error {
		pipelineCancel()
		select {
		case <-shutdownCtx.Done():
			return fmt.Errorf("timeout waiting for pipeline stop: %w", shutdownCtx.Err())
		case <-pipelineDone:
			return nil
		}
	})

	go func() {
		err := m.deps.Pipeline.Run(pipelineCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("pipeline exited unexpectedly")
			errChan <- fmt.Errorf("pipeline: %w", err)
		}
		pipelineDone <- err
		close(pipelineDone)
	}()
}

// registerRuntimeCloseHooks registers close hooks for the stores so
// they are released on every shutdown path, pipeline or not.
func (m *manager) registerRuntimeCloseHooks() {
	if m.deps.Store != nil {
		m.RegisterShutdownHook("queue_store_close", func(context.Context) error {
			return m.deps.Store.Close()
		})
	}
	if m.deps.Verdicts != nil {
		m.RegisterShutdownHook("verdict_cache_close", func(context.Context) error {
			return m.deps.Verdicts.Close()
		})
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.apiServer != nil {
		m.logger.Debug().Msg("draining api server")
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}

	m.logger.Debug().Int("hooks", len(m.shutdownHooks)).Msg("executing shutdown hooks")
	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a named cleanup step. Hooks run in
// reverse registration order.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
