// SPDX-License-Identifier: MIT

package broadcast

import (
	"fmt"
	"strconv"
)

// EncodeProfile carries the encoder knobs shared by clip and idle runs.
// The sink expects H.264/AAC in FLV regardless of the source container.
type EncodeProfile struct {
	Preset       string // libx264 preset
	VideoBitrate string // e.g. "3000k"
	AudioBitrate string // e.g. "128k"
}

func (p EncodeProfile) withDefaults() EncodeProfile {
	if p.Preset == "" {
		p.Preset = "veryfast"
	}
	if p.VideoBitrate == "" {
		p.VideoBitrate = "3000k"
	}
	if p.AudioBitrate == "" {
		p.AudioBitrate = "128k"
	}
	return p
}

// BuildStreamArgs constructs the clip invocation: read at native rate,
// burn the overlay in, encode to the sink's contract. No shell is ever
// involved; every value is its own argv element.
func BuildStreamArgs(prof EncodeProfile, path, overlay, sinkURL string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("missing input path")
	}
	if sinkURL == "" {
		return nil, fmt.Errorf("missing sink URL")
	}
	prof = prof.withDefaults()

	args := []string{
		"-re",
		"-i", path,
	}
	if overlay != "" {
		args = append(args, "-vf", overlay)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", prof.Preset,
		"-b:v", prof.VideoBitrate,
		"-maxrate", prof.VideoBitrate,
		"-bufsize", "6000k",
		"-pix_fmt", "yuv420p",
		"-g", "50",
		"-c:a", "aac",
		"-b:a", prof.AudioBitrate,
		"-ar", "44100",
		"-f", "flv",
		sinkURL,
	)
	return args, nil
}

// BuildIdleArgs constructs the between-clips invocation: the idle still
// looped with silent audio for a bounded duration.
func BuildIdleArgs(prof EncodeProfile, idleImage string, seconds int, sinkURL string) ([]string, error) {
	if idleImage == "" {
		return nil, fmt.Errorf("missing idle image")
	}
	if sinkURL == "" {
		return nil, fmt.Errorf("missing sink URL")
	}
	if seconds <= 0 {
		return nil, fmt.Errorf("idle duration must be positive, got %d", seconds)
	}
	prof = prof.withDefaults()

	return []string{
		"-re",
		"-loop", "1",
		"-i", idleImage,
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", strconv.Itoa(seconds),
		"-c:v", "libx264",
		"-preset", prof.Preset,
		"-b:v", "1000k",
		"-maxrate", "1000k",
		"-bufsize", "2000k",
		"-pix_fmt", "yuv420p",
		"-g", "50",
		"-c:a", "aac",
		"-b:a", prof.AudioBitrate,
		"-ar", "44100",
		"-f", "flv",
		sinkURL,
	}, nil
}
