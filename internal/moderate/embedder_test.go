// SPDX-License-Identifier: MIT

package moderate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeSidecar writes a sh script that speaks the line-delimited JSON
// protocol: ready handshake, then one response per request line.
func fakeSidecar(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip-runner.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return []string{path}
}

// echoSidecar answers every request with safe-dominant logits for one
// image.
const echoSidecar = `
echo '{"event":"ready","prompts":11}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
  echo "{\"id\":$id,\"logits\":[[5,0,0,0,0,0,0,0,0,0,0]]}"
done
`

func TestSidecarEmbedderRoundtrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewSidecarEmbedder(fakeSidecar(t, echoSidecar))
	defer func() { require.NoError(t, e.Close()) }()

	ctx := context.Background()
	require.NoError(t, e.EnsureLoaded(ctx))
	require.NoError(t, e.EnsureLoaded(ctx), "EnsureLoaded must be idempotent")

	logits, err := e.Logits(ctx, []string{"/frames/a.jpg"})
	require.NoError(t, err)
	require.Len(t, logits, 1)
	require.Len(t, logits[0], len(Prompts))
	assert.Equal(t, 5.0, logits[0][idxSafe])

	// IDs advance per request.
	logits, err = e.Logits(ctx, []string{"/frames/b.jpg"})
	require.NoError(t, err)
	require.Len(t, logits, 1)
}

func TestSidecarEmbedderNoCommand(t *testing.T) {
	e := NewSidecarEmbedder(nil)
	err := e.EnsureLoaded(context.Background())
	require.ErrorIs(t, err, ErrEmbedderUnavailable)
}

func TestSidecarEmbedderHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("wrong prompt count", func(t *testing.T) {
		e := NewSidecarEmbedder(fakeSidecar(t, `echo '{"event":"ready","prompts":7}'`+"\nsleep 30\n"))
		defer func() { _ = e.Close() }()
		err := e.EnsureLoaded(context.Background())
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
		assert.Contains(t, err.Error(), "7 prompts")
	})

	t.Run("garbage handshake", func(t *testing.T) {
		e := NewSidecarEmbedder(fakeSidecar(t, "echo 'loading model...'\nsleep 30\n"))
		defer func() { _ = e.Close() }()
		err := e.EnsureLoaded(context.Background())
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
	})

	t.Run("exit before handshake", func(t *testing.T) {
		e := NewSidecarEmbedder(fakeSidecar(t, "echo 'CUDA init failed' >&2\nexit 3\n"))
		defer func() { _ = e.Close() }()
		err := e.EnsureLoaded(context.Background())
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
		assert.Contains(t, err.Error(), "CUDA init failed")
	})
}

// A sidecar that dies after one response is respawned transparently on
// the next request.
func TestSidecarEmbedderRestartOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	spawnLog := filepath.Join(t.TempDir(), "spawns")
	t.Setenv("SPAWN_LOG", spawnLog)

	oneShot := `
echo x >> "$SPAWN_LOG"
echo '{"event":"ready","prompts":11}'
read line
id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
echo "{\"id\":$id,\"logits\":[[5,0,0,0,0,0,0,0,0,0,0]]}"
exit 0
`
	e := NewSidecarEmbedder(fakeSidecar(t, oneShot))
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	_, err := e.Logits(ctx, []string{"/frames/a.jpg"})
	require.NoError(t, err)

	// The child exited after the first answer; this request must respawn.
	_, err = e.Logits(ctx, []string{"/frames/b.jpg"})
	require.NoError(t, err)

	data, err := os.ReadFile(spawnLog)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "x"), "expected exactly one respawn")
}

func TestSidecarEmbedderProtocolErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("sidecar error field", func(t *testing.T) {
		body := `
echo '{"event":"ready","prompts":11}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
  echo "{\"id\":$id,\"error\":\"image decode failed\"}"
done
`
		e := NewSidecarEmbedder(fakeSidecar(t, body))
		defer func() { _ = e.Close() }()

		_, err := e.Logits(context.Background(), []string{"/frames/a.jpg"})
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
		assert.Contains(t, err.Error(), "image decode failed")
	})

	t.Run("vector count mismatch", func(t *testing.T) {
		body := `
echo '{"event":"ready","prompts":11}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
  echo "{\"id\":$id,\"logits\":[[5,0,0,0,0,0,0,0,0,0,0],[5,0,0,0,0,0,0,0,0,0,0]]}"
done
`
		e := NewSidecarEmbedder(fakeSidecar(t, body))
		defer func() { _ = e.Close() }()

		_, err := e.Logits(context.Background(), []string{"/frames/a.jpg"})
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
		assert.Contains(t, err.Error(), "2 vectors for 1 images")
	})

	t.Run("short vector", func(t *testing.T) {
		body := `
echo '{"event":"ready","prompts":11}'
while read line; do
  id=$(printf '%s' "$line" | sed 's/.*"id":\([0-9]*\).*/\1/')
  echo "{\"id\":$id,\"logits\":[[1,2,3]]}"
done
`
		e := NewSidecarEmbedder(fakeSidecar(t, body))
		defer func() { _ = e.Close() }()

		_, err := e.Logits(context.Background(), []string{"/frames/a.jpg"})
		require.ErrorIs(t, err, ErrEmbedderUnavailable)
	})
}

func TestSidecarEmbedderEmptyBatch(t *testing.T) {
	e := NewSidecarEmbedder(fakeSidecar(t, echoSidecar))
	defer func() { _ = e.Close() }()

	logits, err := e.Logits(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, logits)
	assert.False(t, e.loaded, "empty batch must not spawn the sidecar")
}
