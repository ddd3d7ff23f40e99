// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamjuke/streamjuke/internal/auth"
	"github.com/streamjuke/streamjuke/internal/queue"
	"github.com/streamjuke/streamjuke/internal/ratelimit"
)

type fakeSkipper struct {
	skips atomic.Int32
}

func (s *fakeSkipper) Skip() { s.skips.Add(1) }

// generous limiter so rate limiting only bites where a test wants it
func newTestService() (*Service, queue.Store, *fakeSkipper) {
	store := queue.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 6000, Burst: 100})
	skipper := &fakeSkipper{}
	return New(store, limiter, skipper), store, skipper
}

func TestSubmitHappyPath(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, "https://youtube.com/watch?v=abc", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Position)
	assert.Equal(t, copyrightNotice, res.Notice, "first submission carries the notice")

	res2, err := svc.Submit(ctx, "https://youtu.be/def", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res2.Position)
	assert.Empty(t, res2.Notice, "the notice is shown once per submitter")

	item, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", item.SubmittedBy)
	assert.Equal(t, queue.StatusPending, item.Status)
}

func TestSubmitNoticeIsCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "Alice", "", auth.RoleViewer)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Notice)

	res2, err := svc.Submit(ctx, "https://youtube.com/watch?v=b", "ALICE", "", auth.RoleViewer)
	require.NoError(t, err)
	assert.Empty(t, res2.Notice)
}

func TestSubmitURLValidation(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"twitch clip", "https://clips.twitch.tv/FunnyClip", true},
		{"twitch channel video", "https://twitch.tv/videos/123", true},
		{"twitch www subdomain", "https://www.twitch.tv/videos/123", true},
		{"youtube watch", "https://youtube.com/watch?v=abc", true},
		{"youtube www", "https://www.youtube.com/watch?v=abc", true},
		{"youtube mobile", "https://m.youtube.com/watch?v=abc", true},
		{"youtu.be short", "https://youtu.be/abc", true},
		{"uppercase host", "https://YouTube.COM/watch?v=abc", true},
		{"direct mp4", "https://cdn.example.com/clip.mp4", true},
		{"direct mp4 with query", "https://cdn.example.com/clip.mp4?token=x", true},
		{"direct mp3 uppercase ext", "https://cdn.example.com/SONG.MP3", true},
		{"direct webm", "http://cdn.example.com/v.webm", true},
		{"random host", "https://evil.example.com/video", false},
		{"allowed host in query only", "https://evil.example.com/?ref=youtube.com", false},
		{"allowed host as subdomain bait", "https://youtube.com.evil.example.com/watch", false},
		{"extension mid-path", "https://evil.example.com/clip.mp4.exe", false},
		{"ftp scheme", "ftp://youtube.com/watch?v=abc", false},
		{"no scheme", "youtube.com/watch?v=abc", false},
		{"empty", "", false},
		{"whitespace", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.Submit(context.Background(), tt.url, "alice", "", auth.RoleViewer)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidURL)
			}
		})
	}
}

func TestSubmitPromoValidation(t *testing.T) {
	tests := []struct {
		name  string
		promo string
		want  string
	}{
		{"absent", "", ""},
		{"soundcloud kept", "https://soundcloud.com/artist", "https://soundcloud.com/artist"},
		{"open.spotify kept", "https://open.spotify.com/track/x", "https://open.spotify.com/track/x"},
		{"bandcamp kept", "https://artist.bandcamp.com/album/x", "https://artist.bandcamp.com/album/x"},
		{"x.com kept", "https://x.com/artist", "https://x.com/artist"},
		{"random host dropped", "https://evil.example.com/me", ""},
		{"not a url dropped", "check out my mixtape", ""},
		{"oversized dropped", "https://soundcloud.com/" + strings.Repeat("a", 600), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService()
			ctx := context.Background()

			res, err := svc.Submit(ctx, "https://youtube.com/watch?v=abc", "alice", tt.promo, auth.RoleViewer)
			require.NoError(t, err, "a bad promo never blocks the submission")

			item, err := store.Get(ctx, res.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, item.PromoLink)
		})
	}
}

func TestSubmitSubmitterValidation(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "", "", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrInvalidSubmitter)

	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=a", "   ", "", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrInvalidSubmitter)

	// Decomposed unicode is NFC-normalized before storage.
	res, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "José", "", auth.RoleViewer)
	require.NoError(t, err)
	item, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "José", item.SubmittedBy)

	// Names are capped at 64 runes, counted in runes not bytes.
	long := strings.Repeat("ä", 80)
	res, err = svc.Submit(ctx, "https://youtube.com/watch?v=b", long, "", auth.RoleViewer)
	require.NoError(t, err)
	item, err = store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 64, len([]rune(item.SubmittedBy)))
}

func TestSubmitRateLimited(t *testing.T) {
	store := queue.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 3, Burst: 2})
	svc := New(store, limiter, &fakeSkipper{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=b", "alice", "", auth.RoleViewer)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=c", "alice", "", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Another submitter is unaffected.
	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=d", "bob", "", auth.RoleViewer)
	assert.NoError(t, err)

	// Invalid URLs do not consume the budget: two rejects, then the
	// full burst of two still goes through.
	_, err = svc.Submit(ctx, "https://evil.example.com/x", "carol", "", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = svc.Submit(ctx, "https://evil.example.com/y", "carol", "", auth.RoleViewer)
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=e", "carol", "", auth.RoleViewer)
	assert.NoError(t, err)
	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=f", "carol", "", auth.RoleViewer)
	assert.NoError(t, err)
}

func TestQueueLimits(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "alice", "", auth.RoleViewer)
		require.NoError(t, err)
	}

	items, err := svc.Queue(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 5, "non-positive limit falls back to 5")

	items, err = svc.Queue(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = svc.Queue(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, items, 10, "limit is clamped at 10")

	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1].Position, items[i].Position, "queue listing follows play order")
	}
}

func TestNowPlaying(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	item, err := svc.NowPlaying(ctx)
	require.NoError(t, err)
	assert.Nil(t, item)

	res, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, res.ID, queue.StatusDownloading, ""))
	require.NoError(t, store.UpdateStatus(ctx, res.ID, queue.StatusPlaying, ""))

	item, err = svc.NowPlaying(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, res.ID, item.ID)
}

func TestSkipRequiresModerator(t *testing.T) {
	svc, _, skipper := newTestService()
	ctx := context.Background()

	err := svc.Skip(ctx, auth.RoleViewer)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, skipper.skips.Load())

	require.NoError(t, svc.Skip(ctx, auth.RoleModerator))
	require.NoError(t, svc.Skip(ctx, auth.RoleBroadcaster))
	assert.Equal(t, int32(2), skipper.skips.Load())
}

func TestClearRequiresBroadcaster(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	playing, err := svc.Submit(ctx, "https://youtube.com/watch?v=a", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, playing.ID, queue.StatusDownloading, ""))
	require.NoError(t, store.UpdateStatus(ctx, playing.ID, queue.StatusPlaying, ""))

	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=b", "alice", "", auth.RoleViewer)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "https://youtube.com/watch?v=c", "alice", "", auth.RoleViewer)
	require.NoError(t, err)

	_, err = svc.Clear(ctx, auth.RoleViewer)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Clear(ctx, auth.RoleModerator)
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := svc.Clear(ctx, auth.RoleBroadcaster)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The playing item is untouched.
	item, err := svc.NowPlaying(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, playing.ID, item.ID)

	pending, err := store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestHelpListsTheVocabulary(t *testing.T) {
	svc, _, _ := newTestService()
	help := svc.Help()
	for _, cmd := range []string{"!request", "!req", "!sr", "!queue", "!q", "!np", "!nowplaying", "!song", "!current", "!skip", "!clear", "!help"} {
		assert.Contains(t, help, cmd)
	}
}
