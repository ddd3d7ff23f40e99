// SPDX-License-Identifier: MIT

package moderate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/streamjuke/streamjuke/internal/log"
	"github.com/streamjuke/streamjuke/internal/procgroup"
)

// Embedder maps image files to per-prompt logit vectors. Implementations
// own any heavyweight model state; the gate treats them as a sequential
// service.
type Embedder interface {
	// EnsureLoaded blocks until the backend can serve Logits calls.
	EnsureLoaded(ctx context.Context) error
	// Logits returns one raw logit vector per input image, ordered like
	// the inputs. Vectors are softmaxed by the caller.
	Logits(ctx context.Context, imagePaths []string) ([][]float64, error)
	Close() error
}

// ErrEmbedderUnavailable reports a backend that cannot serve; the gate
// degrades to the fallback script.
var ErrEmbedderUnavailable = errors.New("moderate: embedder unavailable")

const (
	handshakeTimeout = 120 * time.Second
	requestTimeout   = 60 * time.Second
	sidecarKillGrace = 5 * time.Second
)

// SidecarEmbedder runs the embedding model in a long-lived child
// process (typically a CLIP runner) and speaks line-delimited JSON over
// its stdin/stdout. The child is spawned once and restarted at most
// once per request on protocol failure.
type SidecarEmbedder struct {
	argv []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	waitCh  chan error
	ring    *procgroup.LineRing
	nextID  int64
	loaded  bool
}

// NewSidecarEmbedder prepares (but does not spawn) the sidecar. An
// empty argv means no embedder is configured.
func NewSidecarEmbedder(argv []string) *SidecarEmbedder {
	return &SidecarEmbedder{argv: argv}
}

type embedRequest struct {
	ID     int64    `json:"id"`
	Images []string `json:"images"`
}

type embedResponse struct {
	ID     int64       `json:"id"`
	Event  string      `json:"event,omitempty"`
	Error  string      `json:"error,omitempty"`
	Logits [][]float64 `json:"logits,omitempty"`
}

type readyEvent struct {
	Event   string `json:"event"`
	Prompts int    `json:"prompts"`
}

// EnsureLoaded spawns the sidecar and waits for its ready handshake.
// Idempotent; concurrent callers share one child.
func (e *SidecarEmbedder) EnsureLoaded(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureLoadedLocked(ctx)
}

func (e *SidecarEmbedder) ensureLoadedLocked(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	if len(e.argv) == 0 {
		return fmt.Errorf("%w: no embedder command configured", ErrEmbedderUnavailable)
	}

	logger := log.WithComponent("moderate")

	cmd := exec.Command(e.argv[0], e.argv[1:]...) // #nosec G204 -- argv from validated operator config
	procgroup.Set(cmd)

	ring := procgroup.NewLineRing(64)
	cmd.Stderr = ring

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrEmbedderUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrEmbedderUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrEmbedderUnavailable, e.argv[0], err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	// The model load happens before the ready line; give it the same
	// budget as a full moderation pass.
	ready := make(chan error, 1)
	go func() {
		if !scanner.Scan() {
			ready <- fmt.Errorf("sidecar exited before handshake: %s", lastLines(ring))
			return
		}
		var ev readyEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			ready <- fmt.Errorf("malformed handshake: %v", err)
			return
		}
		if ev.Event != "ready" {
			ready <- fmt.Errorf("unexpected handshake event %q", ev.Event)
			return
		}
		if ev.Prompts != len(Prompts) {
			ready <- fmt.Errorf("sidecar serves %d prompts, vocabulary has %d", ev.Prompts, len(Prompts))
			return
		}
		ready <- nil
	}()

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			_ = procgroup.Terminate(cmd, waitCh, sidecarKillGrace)
			return fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
		}
	case <-timer.C:
		_ = procgroup.Terminate(cmd, waitCh, sidecarKillGrace)
		return fmt.Errorf("%w: handshake timed out after %s", ErrEmbedderUnavailable, handshakeTimeout)
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, sidecarKillGrace)
		return fmt.Errorf("%w: %v", ErrEmbedderUnavailable, ctx.Err())
	}

	e.cmd = cmd
	e.stdin = stdin
	e.scanner = scanner
	e.waitCh = waitCh
	e.ring = ring
	e.loaded = true

	logger.Info().
		Str(log.FieldBinary, e.argv[0]).
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("embedder sidecar ready")
	return nil
}

// Logits scores a batch of images. One transparent respawn is attempted
// when the sidecar breaks mid-request; a second failure surfaces as
// ErrEmbedderUnavailable.
func (e *SidecarEmbedder) Logits(ctx context.Context, imagePaths []string) ([][]float64, error) {
	if len(imagePaths) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logits, err := e.requestLocked(ctx, imagePaths)
	if err == nil {
		return logits, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	logger := log.WithComponent("moderate")
	logger.Warn().Err(err).Msg("embedder request failed, restarting sidecar once")
	e.shutdownLocked()
	if err := e.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	logits, err = e.requestLocked(ctx, imagePaths)
	if err != nil {
		e.shutdownLocked()
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	return logits, nil
}

func (e *SidecarEmbedder) requestLocked(ctx context.Context, imagePaths []string) ([][]float64, error) {
	if err := e.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	e.nextID++
	req := embedRequest{ID: e.nextID, Images: imagePaths}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := e.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	type result struct {
		resp embedResponse
		err  error
	}
	// Capture the pipe state: an abandoned reader from a timed-out
	// request must never touch a respawned sidecar's scanner.
	scanner, ring := e.scanner, e.ring
	resCh := make(chan result, 1)
	go func() {
		if !scanner.Scan() {
			resCh <- result{err: fmt.Errorf("sidecar closed stdout: %s", lastLines(ring))}
			return
		}
		var resp embedResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			resCh <- result{err: fmt.Errorf("malformed response: %v", err)}
			return
		}
		resCh <- result{resp: resp}
	}()

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	var resp embedResponse
	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, r.err
		}
		resp = r.resp
	case <-timer.C:
		return nil, fmt.Errorf("request %d timed out after %s", req.ID, requestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("sidecar error: %s", resp.Error)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request %d", resp.ID, req.ID)
	}
	if len(resp.Logits) != len(imagePaths) {
		return nil, fmt.Errorf("sidecar returned %d vectors for %d images", len(resp.Logits), len(imagePaths))
	}
	for i, vec := range resp.Logits {
		if len(vec) != len(Prompts) {
			return nil, fmt.Errorf("vector %d has %d entries, vocabulary has %d", i, len(vec), len(Prompts))
		}
	}
	return resp.Logits, nil
}

// Close terminates the sidecar.
func (e *SidecarEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownLocked()
	return nil
}

func (e *SidecarEmbedder) shutdownLocked() {
	if e.cmd == nil {
		e.loaded = false
		return
	}
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	_ = procgroup.Terminate(e.cmd, e.waitCh, sidecarKillGrace)
	e.cmd = nil
	e.stdin = nil
	e.scanner = nil
	e.waitCh = nil
	e.loaded = false
}

func lastLines(ring *procgroup.LineRing) string {
	if ring == nil {
		return "no output"
	}
	lines := ring.LastN(3)
	if len(lines) == 0 {
		return "no output"
	}
	return strings.Join(lines, "; ")
}
