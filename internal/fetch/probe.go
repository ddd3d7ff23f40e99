// SPDX-License-Identifier: MIT

package fetch

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ProbeInfo is the slice of the yt-dlp metadata document the pipeline
// acts on. The raw document is kept for the sidecar.
type ProbeInfo struct {
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration"`
	Ext             string  `json:"ext"`

	raw []byte
}

// parseProbe decodes the single-line JSON document yt-dlp -j emits.
func parseProbe(out []byte) (*ProbeInfo, error) {
	doc := strings.TrimSpace(string(out))
	if doc == "" {
		return nil, kindErr(ErrProbeFailed, "empty probe output")
	}
	// Warnings can precede the document; the JSON is the last line.
	if idx := strings.LastIndexByte(doc, '\n'); idx >= 0 {
		doc = doc[idx+1:]
	}

	var info ProbeInfo
	if err := json.Unmarshal([]byte(doc), &info); err != nil {
		return nil, kindErr(ErrProbeFailed, "malformed probe output: %v", err)
	}
	info.raw = []byte(doc)
	return &info, nil
}

// Raw returns the verbatim probe document for the sidecar.
func (p *ProbeInfo) Raw() []byte {
	return p.raw
}

// sanitizeTitle NFC-normalises the title, strips unprintable runes and
// truncates to maxRunes. Empty results fall back to "Unknown".
func sanitizeTitle(raw string, maxRunes int) string {
	normalized := norm.NFC.String(raw)

	var b strings.Builder
	b.Grow(len(normalized))
	count := 0
	for _, r := range normalized {
		if !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
		count++
		if count == maxRunes {
			break
		}
	}

	title := strings.TrimSpace(b.String())
	if title == "" {
		return "Unknown"
	}
	return title
}
