// SPDX-License-Identifier: MIT

package api

import "github.com/streamjuke/streamjuke/internal/auth"

// minRoleByOperation maps CamelCased OpenAPI operation ids to the weakest
// role allowed to call them. Enforcement happens in the command layer; this
// table is the declared contract, and the contract test holds the embedded
// document, this table, and the handlers to the same answer.
var minRoleByOperation = map[string]auth.Role{
	"SubmitMedia":        auth.RoleViewer,
	"ListQueue":          auth.RoleViewer,
	"GetNowPlaying":      auth.RoleViewer,
	"SkipCurrent":        auth.RoleModerator,
	"ClearPending":       auth.RoleBroadcaster,
	"GetHelp":            auth.RoleViewer,
	"GetOpenapiDocument": auth.RoleViewer,
}

// RequiredRole reports the minimum role for an operation id.
func RequiredRole(operationID string) (auth.Role, bool) {
	role, ok := minRoleByOperation[operationID]
	return role, ok
}
