// SPDX-License-Identifier: MIT

package broadcast

import (
	"strings"
	"time"
)

// Start-retry policy: a clip encoder that dies inside the start window
// with a transient-looking stderr is retried; anything that failed
// mid-stream, or was skipped, is terminal for the item.
const (
	maxStartRetries = 5
	startWindow     = 10 * time.Second
	maxBackoff      = 120 * time.Second
	baseBackoff     = 2 * time.Second
)

// transientPatterns is a strict allowlist matched against the stderr
// tail. Only sink-side connectivity failures qualify; encode errors in
// the clip itself never do.
var transientPatterns = []string{
	"Connection refused",
	"Connection reset",
	"Connection timed out",
	"timed out",
	"Broken pipe",
	"Server error",
	"RTMP_Connect",
	"Failed to connect",
	"HTTP error 500",
	"HTTP error 502",
	"HTTP error 503",
	"HTTP error 504",
	"5XX Server Error",
}

// isTransientStartFailure reports whether the stderr tail matches the
// retry allowlist.
func isTransientStartFailure(lines []string) bool {
	for _, line := range lines {
		for _, pattern := range transientPatterns {
			if strings.Contains(line, pattern) {
				return true
			}
		}
	}
	return false
}

// backoffDelay returns the exponential delay before retry attempt n
// (0-based): base, 2*base, 4*base, ... capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = baseBackoff
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
