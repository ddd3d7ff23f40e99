// SPDX-License-Identifier: MIT

package moderate

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/streamjuke/streamjuke/internal/log"
)

// debounceWindow coalesces the event bursts editors and atomic-rename
// writers produce for a single artifact update.
const debounceWindow = 300 * time.Millisecond

// watchArtifacts reloads the policy holder whenever a learned-policy
// artifact in modelDir appears, changes or is removed. It blocks until
// ctx is cancelled; watch setup failure disables hot swap but never the
// gate itself.
func watchArtifacts(ctx context.Context, holder *policyHolder, modelDir string) {
	logger := log.WithComponent("moderate")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("artifact watcher unavailable, policy hot swap disabled")
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(modelDir); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, modelDir).Msg("cannot watch model dir, policy hot swap disabled")
		return
	}
	logger.Debug().Str(log.FieldPath, modelDir).Msg("watching model dir for policy artifacts")

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isArtifact(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			if err := holder.Reload(modelDir); err != nil {
				logger.Warn().Err(err).Msg("policy reload failed, previous policy stays active")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("artifact watcher error")
		}
	}
}

func isArtifact(path string) bool {
	base := filepath.Base(path)
	return base == ModelArtifact || base == ThresholdArtifact
}
