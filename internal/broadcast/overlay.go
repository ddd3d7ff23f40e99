// SPDX-License-Identifier: MIT

package broadcast

import (
	"fmt"
	"strings"
)

// displayTitleMax is the overlay's title budget; the stored title keeps
// up to 100 runes, the on-screen line stays shorter.
const displayTitleMax = 50

// escapeFilterText neutralizes the drawtext filter-graph metacharacters
// in viewer-supplied text. Backslash must go first or the later escapes
// would be double-escaped.
func escapeFilterText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	return s
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// BuildOverlayFilter renders the attribution overlay: the title line at
// the bottom left, plus a promo line underneath when the submitter
// supplied one. All viewer text is escaped before it reaches the graph.
func BuildOverlayFilter(title, submitter, promo string) string {
	line1 := escapeFilterText(fmt.Sprintf("%s - requested by %s", truncateRunes(title, displayTitleMax), submitter))
	filters := []string{
		fmt.Sprintf("drawtext=text='%s':fontsize=24:fontcolor=white:borderw=2:bordercolor=black:x=20:y=h-60", line1),
	}
	if promo != "" {
		line2 := escapeFilterText("Hear more at: " + promo)
		filters = append(filters,
			fmt.Sprintf("drawtext=text='%s':fontsize=20:fontcolor=yellow:borderw=2:bordercolor=black:x=20:y=h-30", line2))
	}
	return strings.Join(filters, ",")
}
