// SPDX-License-Identifier: MIT

package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusDownloading},
		{StatusDownloading, StatusPlaying},
		{StatusDownloading, StatusFailed},
		{StatusPlaying, StatusDone},
		{StatusPlaying, StatusFailed},
	}
	for _, tr := range allowed {
		assert.NoError(t, ValidateTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusPlaying},
		{StatusPending, StatusDone},
		{StatusPending, StatusFailed},
		{StatusDownloading, StatusDone},
		{StatusDone, StatusPending},
		{StatusFailed, StatusDownloading},
		{StatusDone, StatusDone},
	}
	for _, tr := range denied {
		err := ValidateTransition(tr.from, tr.to)
		require.Error(t, err, "%s -> %s", tr.from, tr.to)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDownloading.Terminal())
	assert.False(t, StatusPlaying.Terminal())
}

func TestNewItemDefaults(t *testing.T) {
	item := New("https://clips.twitch.tv/x", "viewer1", "")
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", item.ID.String())
	assert.Equal(t, "Unknown", item.Title)
	assert.Equal(t, StatusPending, item.Status)
	assert.Empty(t, item.PromoLink)
	assert.False(t, item.SubmittedAt.IsZero())
}
