package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal roles. Authorization decisions key off
// this enum and the explicit grant table in guard.go, never off ad hoc string
// comparisons.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOrgAdmin  Role = "orgAdmin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// ParseRole maps a claim value onto the closed role set.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleOrgAdmin:
		return RoleOrgAdmin, nil
	case RoleModerator:
		return RoleModerator, nil
	case RoleMember:
		return RoleMember, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// Principal is an authenticated actor. Principals are soft-deleted only;
// rows stay behind for the audit trail, and a set DeletedAt permanently
// fails authentication and refresh.
type Principal struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	OrganizationID string     `json:"organization_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p != nil && p.DeletedAt == nil
}

// RefreshToken is the persisted side of a refresh credential. Only a sha256
// hash of the signed token is stored; the token itself stays with the client.
// A non-nil ConsumedAt is terminal: the token was rotated or revoked.
type RefreshToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// Live reports whether the token can still be exchanged at the given instant.
func (t *RefreshToken) Live(now time.Time) bool {
	return t != nil && t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshableUntil time.Time `json:"refreshable_until"`
}
