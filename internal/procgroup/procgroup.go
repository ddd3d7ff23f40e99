// SPDX-License-Identifier: MIT

// Package procgroup manages child processes as process groups so that a
// kill reaches the whole subprocess tree (yt-dlp spawns ffmpeg, ffmpeg
// spawns demuxers).
package procgroup

import "errors"

// ErrKillFailed reports that a process group survived SIGKILL within the
// reaper timeout.
var ErrKillFailed = errors.New("kill operation failed")
