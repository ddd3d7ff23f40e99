// SPDX-License-Identifier: MIT

// Package auth holds the role model and API token verification. Roles
// come from the chat adapter and are advisory labels, not identities;
// anything unrecognized degrades to viewer.
package auth

import "strings"

// Role is the caller's privilege level as reported by the adapter.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleModerator   Role = "moderator"
	RoleBroadcaster Role = "broadcaster"
)

// ParseRole maps a header value to a Role. Unknown or empty values are
// viewers.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleModerator:
		return RoleModerator
	case RoleBroadcaster:
		return RoleBroadcaster
	default:
		return RoleViewer
	}
}

// CanSkip reports whether the role may stop the current clip.
func (r Role) CanSkip() bool {
	return r == RoleModerator || r == RoleBroadcaster
}

// CanClear reports whether the role may drop the pending queue.
func (r Role) CanClear() bool {
	return r == RoleBroadcaster
}
