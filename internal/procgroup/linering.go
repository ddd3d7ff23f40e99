// SPDX-License-Identifier: MIT

package procgroup

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer keeping the last N lines of child
// process output. Children can emit unbounded stderr (yt-dlp progress,
// ffmpeg frame stats); the ring drains the pipe without growing.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewLineRing creates a LineRing with the given capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer over line-oriented input. Partial lines are
// stored as-is; stderr traffic is diagnostic, not parsed.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns up to n most recent lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}

	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Contains reports whether any buffered line contains the substring.
func (r *LineRing) Contains(substr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, line := range r.lines {
		if line != "" && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
