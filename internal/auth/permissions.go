package auth

import "slices"

// Permission is a named capability.
type Permission string

// Permission constants.
const (
	PermThingRead     Permission = "thing:read"
	PermPropertyWrite Permission = "property:write"
	PermActionRequest Permission = "action:request"
	PermActionCancel  Permission = "action:cancel"
	PermHistoryRead   Permission = "history:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermThingRead,
		PermHistoryRead,
	},
	RoleOperator: {
		PermThingRead,
		PermHistoryRead,
		PermPropertyWrite,
		PermActionRequest,
	},
	RoleAdmin: {
		PermThingRead,
		PermHistoryRead,
		PermPropertyWrite,
		PermActionRequest,
		PermActionCancel,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
