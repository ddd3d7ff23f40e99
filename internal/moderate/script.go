// SPDX-License-Identifier: MIT

package moderate

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/procgroup"
)

const (
	scriptTimeout   = 120 * time.Second
	scriptKillGrace = 5 * time.Second
)

// ScriptModerator shells out to an operator-provided filter executable.
// It is the degraded path when the classifier cannot serve: fail open
// when no script is configured, otherwise let the script's exit code
// decide.
type ScriptModerator struct {
	Path    string
	Timeout time.Duration
}

// NewScriptModerator wraps the given executable path. An empty path is
// valid and approves everything.
func NewScriptModerator(path string) *ScriptModerator {
	return &ScriptModerator{Path: path, Timeout: scriptTimeout}
}

// Check runs the script with the media file as its only argument.
// Exit 0 approves; any other exit rejects with the script's trimmed
// output as the reason. A missing or unconfigured script approves.
func (m *ScriptModerator) Check(ctx context.Context, filePath string) Verdict {
	logger := log.WithComponentFromContext(ctx, "moderate")

	if m.Path == "" {
		logger.Debug().Msg("no filter script configured, approving")
		return Verdict{Approved: true, Policy: PolicyScript}
	}
	if _, err := os.Stat(m.Path); err != nil {
		logger.Warn().Str(log.FieldPath, m.Path).Msg("filter script not found, approving")
		return Verdict{Approved: true, Policy: PolicyScript}
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = scriptTimeout
	}

	cmd := exec.Command(m.Path, filePath) // #nosec G204 -- path from validated operator config
	procgroup.Set(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str(log.FieldPath, m.Path).Msg("filter script failed to start")
		return Verdict{Approved: false, Policy: PolicyScript, Reason: KindModerationError}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		_ = procgroup.Terminate(cmd, waitCh, scriptKillGrace)
	case <-ctx.Done():
		timedOut = true
		_ = procgroup.Terminate(cmd, waitCh, scriptKillGrace)
	}

	if timedOut {
		logger.Error().Str(log.FieldPath, m.Path).Dur("timeout", timeout).Msg("filter script timed out")
		return Verdict{Approved: false, Policy: PolicyScript, Reason: KindModerationTimeout}
	}

	if waitErr == nil {
		logger.Info().Str(log.FieldPath, filePath).Msg("filter script approved")
		return Verdict{Approved: true, Policy: PolicyScript}
	}

	reason := strings.TrimSpace(stdout.String())
	if reason == "" {
		reason = strings.TrimSpace(stderr.String())
	}
	if reason == "" {
		reason = "content rejected"
	}
	logger.Warn().
		Str(log.FieldPath, filePath).
		Str(log.FieldReason, reason).
		Msg("filter script rejected")
	return Verdict{Approved: false, Policy: PolicyScript, Reason: reason}
}
