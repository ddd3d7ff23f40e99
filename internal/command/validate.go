// SPDX-License-Identifier: MIT

package command

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/streamjuke/streamjuke/internal/urlutil"
)

const (
	submitterMaxRunes = 64
	promoMaxRunes     = 512
)

// mediaHosts are the platforms yt-dlp is trusted to extract from.
var mediaHosts = []string{
	"twitch.tv",
	"youtube.com",
	"youtu.be",
	"clips.twitch.tv",
}

// mediaSuffixes accept direct file links outside the platform list.
var mediaSuffixes = []string{".mp4", ".mp3", ".webm"}

// promoHosts are the music/social platforms a promo link may point at.
var promoHosts = []string{
	"youtube.com",
	"youtu.be",
	"soundcloud.com",
	"spotify.com",
	"open.spotify.com",
	"bandcamp.com",
	"twitter.com",
	"x.com",
	"instagram.com",
}

// hostAllowed reports whether host equals an allowed entry or is a
// subdomain of one. host must already be normalized.
func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// validMediaURL reports whether raw points at an extractable platform
// or a direct media file. Matching is on the IDNA-normalized host, with
// a lowercased path-suffix check for direct links.
func validMediaURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host, err := urlutil.NormalizeHost(u.Hostname())
	if err != nil {
		return false
	}
	if hostAllowed(host, mediaHosts) {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, suffix := range mediaSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// validPromoURL reports whether raw points at an allowed music/social
// platform.
func validPromoURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host, err := urlutil.NormalizeHost(u.Hostname())
	if err != nil {
		return false
	}
	return hostAllowed(host, promoHosts)
}

// sanitizeSubmitter NFC-normalizes and trims the submitter name. The
// empty string means the name was unusable.
func sanitizeSubmitter(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) > submitterMaxRunes {
		s = string(runes[:submitterMaxRunes])
	}
	return s
}

// sanitizePromo normalizes the promo link, returning "" when it is
// absent, oversized or off the allow-list. A bad promo never blocks the
// submission.
func sanitizePromo(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if len([]rune(s)) > promoMaxRunes {
		return ""
	}
	if !validPromoURL(s) {
		return ""
	}
	return s
}
