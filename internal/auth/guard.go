package auth

// ScopedContext is the authorization result handed to the query layer. It is
// derived exactly once, at this boundary, from verified claims — never from
// caller-supplied filter fields.
type ScopedContext struct {
	PrincipalID    string
	Role           Role
	OrganizationID string
	PlatformWide   bool
}

// roleGrants is the explicit authorization table: for each operating role,
// the required-role levels it satisfies.
var roleGrants = map[Role]map[Role]bool{
	RoleAdmin: {
		RoleAdmin:     true,
		RoleOrgAdmin:  true,
		RoleModerator: true,
		RoleMember:    true,
	},
	RoleOrgAdmin: {
		RoleOrgAdmin:  true,
		RoleModerator: true,
		RoleMember:    true,
	},
	RoleModerator: {
		RoleModerator: true,
		RoleMember:    true,
	},
	RoleMember: {
		RoleMember: true,
	},
}

// platformWide marks roles whose queries are not constrained to a single
// organization. The distinction is explicit per role, never inferred.
var platformWide = map[Role]bool{
	RoleAdmin: true,
}

// Authorize checks verified claims against the required role and extracts the
// query scope. A token that verified but carries an unknown role, an
// insufficient role, or a scoped role without an organization claim is
// ErrForbidden.
func Authorize(claims Claims, required Role) (ScopedContext, error) {
	role, err := ParseRole(claims.Role)
	if err != nil {
		return ScopedContext{}, ErrForbidden
	}
	if !roleGrants[role][required] {
		return ScopedContext{}, ErrForbidden
	}
	if platformWide[role] {
		return ScopedContext{
			PrincipalID:  claims.Subject,
			Role:         role,
			PlatformWide: true,
		}, nil
	}
	if claims.OrganizationID == "" {
		return ScopedContext{}, ErrForbidden
	}
	return ScopedContext{
		PrincipalID:    claims.Subject,
		Role:           role,
		OrganizationID: claims.OrganizationID,
	}, nil
}
