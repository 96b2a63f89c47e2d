package domain

import "fmt"

// Role is the caller role supplied by the auth collaborator. The engine
// trusts it; only ownership guards are enforced in the core.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

// ParseRole validates a role string from a token claim.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCitizen, RoleOfficer, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// CanOperate reports whether the role may perform officer-side queue
// operations (call next, complete, skip).
func (r Role) CanOperate() bool {
	return r == RoleOfficer || r == RoleAdmin
}
