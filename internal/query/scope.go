package query

// ScopeField is the column every organization-scoped resource carries.
const ScopeField = "organization_id"

// Scope is the authorization boundary resolved by the guard. The query layer
// receives it explicitly; it is never derived from caller-supplied filters.
type Scope struct {
	OrganizationID string
	PlatformWide   bool
}

// ApplyScope intersects the predicate set with the caller's scope. The merge
// is purely additive AND: a caller-forged organization_id filter stays in the
// set and is combined with, never replaced by, the mandatory predicate — so a
// request for another tenant's rows matches nothing. Platform-wide scopes
// pass through untouched.
func ApplyScope(set PredicateSet, scope Scope) PredicateSet {
	if scope.PlatformWide {
		return set
	}
	out := set
	out.Predicates = append(append([]Predicate(nil), set.Predicates...), Predicate{
		Field: ScopeField,
		Op:    OpEq,
		Value: scope.OrganizationID,
	})
	return out
}
