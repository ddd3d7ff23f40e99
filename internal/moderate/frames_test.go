// SPDX-License-Identifier: MIT

package moderate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVideo(t *testing.T) {
	tests := []struct {
		path  string
		video bool
	}{
		{"/media/clip.mp4", true},
		{"/media/clip.MP4", true},
		{"/media/clip.webm", true},
		{"/media/clip.mkv", true},
		{"/media/clip.avi", true},
		{"/media/clip.mov", true},
		{"/media/still.jpg", false},
		{"/media/still.png", false},
		{"/media/song.mp3", false},
		{"/media/noext", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.video, IsVideo(tt.path), tt.path)
	}
}

func TestBuildSampleArgs(t *testing.T) {
	args := BuildSampleArgs("/media/clip.mp4", "/tmp/frames")
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "/media/clip.mp4",
		"-vf", "fps=1",
		"-frames:v", "200",
		"-f", "image2",
		"/tmp/frames/frame-%05d.jpg",
	}, args)
}

func TestFrameSamplerDefaults(t *testing.T) {
	s := NewFrameSampler("", 0)
	assert.Equal(t, "ffmpeg", s.FFmpegPath)
	assert.NotZero(t, s.Timeout)
}

// A fake ffmpeg that writes stills proves the glob/sort/cleanup path
// without a real encoder.
func TestFrameSamplerSample(t *testing.T) {
	// The last argv element is the output pattern; write two frames there.
	fake := writeScript(t, `
out=""
for a in "$@"; do out="$a"; done
dir=$(dirname "$out")
printf x > "$dir/frame-00001.jpg"
printf x > "$dir/frame-00002.jpg"
exit 0
`)
	s := NewFrameSampler(fake, 0)

	frames, cleanup, err := s.Sample(context.Background(), "/media/clip.mp4")
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], "frame-00001.jpg")
	assert.Contains(t, frames[1], "frame-00002.jpg")
}

func TestFrameSamplerNoFrames(t *testing.T) {
	fake := writeScript(t, "exit 0\n")
	s := NewFrameSampler(fake, 0)

	_, _, err := s.Sample(context.Background(), "/media/clip.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frames")
}

func TestFrameSamplerFailure(t *testing.T) {
	fake := writeScript(t, "echo 'moov atom not found' >&2\nexit 1\n")
	s := NewFrameSampler(fake, 0)

	_, _, err := s.Sample(context.Background(), "/media/clip.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moov atom not found")
}
