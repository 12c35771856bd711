package auth

import "errors"

// Role is an authorisation tier carried in the token.
type Role string

const (
	// RoleViewer may read Thing Descriptions, properties, actions, events
	// and history.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally write properties and request actions.
	RoleOperator Role = "operator"

	// RoleAdmin may additionally cancel actions.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role in ascending privilege.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrTokenMissing = errors.New("missing bearer token")
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("signing secret is empty")
)
