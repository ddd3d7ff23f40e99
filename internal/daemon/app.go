// SPDX-License-Identifier: MIT

package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PolicyWatcher blocks watching for moderation policy changes until its
// context ends. The gate implements it over fsnotify.
type PolicyWatcher interface {
	Watch(ctx context.Context)
}

// App owns the long-lived background subsystems and delegates server
// and pipeline management to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager
	watcher PolicyWatcher
}

// NewApp creates an App. watcher may be nil when no model dir is
// configured.
func NewApp(logger zerolog.Logger, manager Manager, watcher PolicyWatcher) *App {
	return &App{
		logger:  logger,
		manager: manager,
		watcher: watcher,
	}
}

// Run starts the background subsystems and blocks until ctx is
// cancelled or the manager fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Policy hot swap is best effort: the watcher logs and returns on
	// setup failure, it never takes the daemon down.
	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Watch(ctx)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
