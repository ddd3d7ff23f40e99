// SPDX-License-Identifier: MIT

package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"viewer", RoleViewer},
		{"moderator", RoleModerator},
		{"broadcaster", RoleBroadcaster},
		{"Moderator", RoleModerator},
		{"  BROADCASTER  ", RoleBroadcaster},
		{"", RoleViewer},
		{"admin", RoleViewer},
		{"mod", RoleViewer},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.in))
		})
	}
}

func TestRolePermissions(t *testing.T) {
	assert.False(t, RoleViewer.CanSkip())
	assert.False(t, RoleViewer.CanClear())

	assert.True(t, RoleModerator.CanSkip())
	assert.False(t, RoleModerator.CanClear())

	assert.True(t, RoleBroadcaster.CanSkip())
	assert.True(t, RoleBroadcaster.CanClear())
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, "s3cret", ExtractToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, ExtractToken(r), "only bearer tokens are accepted")

	r.Header.Set("Authorization", "Bearer   padded  ")
	assert.Equal(t, "padded", ExtractToken(r))
}

func TestAuthorizeToken(t *testing.T) {
	assert.True(t, AuthorizeToken("s3cret", "s3cret"))
	assert.False(t, AuthorizeToken("wrong", "s3cret"))
	assert.False(t, AuthorizeToken("", "s3cret"))
	assert.False(t, AuthorizeToken("s3cret", ""), "empty expectation never authorizes")
	assert.False(t, AuthorizeToken("", ""))
}

func TestAuthorizeRequest(t *testing.T) {
	assert.False(t, AuthorizeRequest(nil, "s3cret"))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	assert.True(t, AuthorizeRequest(r, "s3cret"))
	assert.False(t, AuthorizeRequest(r, "other"))
}
