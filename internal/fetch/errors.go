// SPDX-License-Identifier: MIT

package fetch

import (
	"errors"
	"fmt"
)

// Error kinds recorded on the queue item. The worker persists
// Kind(err) + detail as the terminal error message.
var (
	ErrProbeFailed      = errors.New("probe_failed")
	ErrDownloadFailed   = errors.New("download_failed")
	ErrDownloadTimeout  = errors.New("download_timeout")
	ErrFileTooLarge     = errors.New("file_too_large")
	ErrDurationExceeded = errors.New("duration_exceeded")
)

// kinds in classification order; the first match wins.
var kinds = []error{
	ErrDurationExceeded,
	ErrFileTooLarge,
	ErrDownloadTimeout,
	ErrDownloadFailed,
	ErrProbeFailed,
}

// Kind maps err to its stable error-kind string, or "download_failed"
// for anything unrecognized that escaped the fetch path.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrDownloadFailed.Error()
}

func kindErr(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
