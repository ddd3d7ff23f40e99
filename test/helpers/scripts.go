// SPDX-License-Identifier: MIT

package helpers

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// FakeYTDLP writes a sh script standing in for yt-dlp. The probe branch
// answers -j with a fixed metadata document; the download branch resolves
// the -o template and drops a small file there.
func FakeYTDLP(t *testing.T, title string, durationSeconds float64) string {
	t.Helper()
	probe := fmt.Sprintf(`{"title":%q,"duration":%g,"ext":"mp4"}`, title, durationSeconds)
	body := `if [ "$1" = "-j" ]; then
  printf '%s\n' '` + probe + `'
  exit 0
fi
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
out=$(printf '%s' "$out" | sed 's/%(ext)s/mp4/')
printf 'fake-media-bytes' > "$out"
`
	return writeScript(t, "fake-yt-dlp.sh", body)
}

// RecordingEncoder writes a sh script standing in for ffmpeg that logs
// its argv, one element per line, and exits as a completed stream.
func RecordingEncoder(t *testing.T, argsFile string) string {
	t.Helper()
	body := `printf '%s\n' "$@" >> "` + argsFile + `"
exit 0
`
	return writeScript(t, "fake-ffmpeg.sh", body)
}

// BlockingEncoder writes a sh script standing in for ffmpeg that streams
// forever until told to stop, marking startup through startedFile.
func BlockingEncoder(t *testing.T, startedFile string) string {
	t.Helper()
	body := `touch "` + startedFile + `"
trap 'exit 0' INT TERM
while true; do sleep 1; done
`
	return writeScript(t, "fake-ffmpeg.sh", body)
}

// FilterScript writes a sh moderation hook with the given body.
func FilterScript(t *testing.T, body string) string {
	t.Helper()
	return writeScript(t, "filter.sh", body)
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}
