package auth

// System role names. The "r:" prefix keeps role names apart from user ids in
// Casbin subjects.
const (
	// RoleEveryone is implicitly held by every caller, anonymous or not
	RoleEveryone = "r:everyone"
	// RoleAuthenticated is implicitly held by every logged-in user
	RoleAuthenticated = "r:authenticated"
	RoleParticipant   = "r:participant"
	RoleCatcher       = "r:catcher"
	RoleModerator     = "r:moderator"
	RoleAdministrator = "r:administrator"
	// RoleSysadmin is only ever granted globally
	RoleSysadmin = "r:sysadmin"
	RoleOwner    = "r:owner"
)

// SystemRoles lists the roles seeded at install time.
var SystemRoles = []string{
	RoleEveryone,
	RoleAuthenticated,
	RoleParticipant,
	RoleCatcher,
	RoleModerator,
	RoleAdministrator,
	RoleSysadmin,
	RoleOwner,
}

// IsImplicitRole reports whether role is derived from the caller's login
// state rather than stored as a grant.
func IsImplicitRole(role string) bool {
	return role == RoleEveryone || role == RoleAuthenticated
}

// ImplicitRoles returns the roles held without any grant.
func ImplicitRoles(authenticated bool) []string {
	if authenticated {
		return []string{RoleEveryone, RoleAuthenticated}
	}
	return []string{RoleEveryone}
}
