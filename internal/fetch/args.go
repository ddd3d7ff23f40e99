// SPDX-License-Identifier: MIT

package fetch

import (
	"fmt"
	"path/filepath"
)

// downloadFormat prefers a ready-made mp4, then falls back to whatever
// the extractor offers; --merge-output-format remuxes mixed streams.
const downloadFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// BuildProbeArgs constructs the yt-dlp metadata-only invocation. No bytes
// of media are transferred; stdout carries one JSON document.
func BuildProbeArgs(url string) []string {
	return []string{
		"-j",
		"--no-playlist",
		url,
	}
}

// BuildDownloadArgs constructs the yt-dlp download invocation. The output
// template pins the file name to the item id so the pipeline can locate
// it regardless of extractor naming.
func BuildDownloadArgs(url, mediaDir, id string, maxFileSizeMB int) []string {
	return []string{
		"-f", downloadFormat,
		"--merge-output-format", "mp4",
		"-o", filepath.Join(mediaDir, id+".%(ext)s"),
		"--no-playlist",
		"--max-filesize", fmt.Sprintf("%dm", maxFileSizeMB),
		url,
	}
}
