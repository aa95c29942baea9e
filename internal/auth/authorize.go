package auth

// HasRole reports whether u holds any of roles. Super admins hold every role.
func (u *User) HasRole(roles ...Role) bool {
	if u == nil {
		return false
	}
	if u.Role == RoleSuperAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// CanAccessOrg reports whether u may act on data owned by orgID.
func (u *User) CanAccessOrg(orgID int64) bool {
	if u == nil {
		return false
	}
	return u.Role == RoleSuperAdmin || u.OrgID == orgID
}
