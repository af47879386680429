package enums

import "fmt"

// Role maps to the user_role enum in Postgres.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleDriver  Role = "driver"
)

var validRoles = []Role{
	RoleOwner,
	RoleManager,
	RoleDriver,
}

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanDispatch reports whether the role may open, resolve or escalate bid windows.
func (r Role) CanDispatch() bool {
	return r == RoleOwner || r == RoleManager
}

// ParseRole converts raw input into Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
