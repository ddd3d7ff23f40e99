// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamjuke/streamjuke/internal/cache"
	"github.com/streamjuke/streamjuke/internal/queue"
)

// ServerConfig holds the command surface's HTTP server parameters.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns server parameters suited to the small
// JSON requests the command surface handles.
func DefaultServerConfig(listenAddr string) ServerConfig {
	return ServerConfig{
		ListenAddr:      listenAddr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	def := DefaultServerConfig(c.ListenAddr)
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// PipelineRunner runs the media pipeline until its context ends.
type PipelineRunner interface {
	Run(ctx context.Context) error
}

// Deps contains the dependencies the Manager supervises. Store and
// Verdicts are optional; when present they are closed during shutdown
// after the pipeline has stopped.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// APIHandler serves the HTTP command surface.
	APIHandler http.Handler

	// Pipeline is the media pipeline loop. Nil runs the API alone, which
	// the tests use to exercise the server lifecycle in isolation.
	Pipeline PipelineRunner

	// Store is the queue store to close on shutdown.
	Store queue.Store

	// Verdicts is the moderation verdict cache to close on shutdown.
	Verdicts cache.Store
}

// Validate checks that the required dependencies are present.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
