package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// PrincipalStore is the credential store adapter. FindByID and FindByEmail
// return soft-deleted principals too; liveness checks belong to the caller.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	FindByID(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore manages the refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)

	// Consume marks the token consumed if and only if it is still live.
	// The write must be a single conditional update so that of N concurrent
	// attempts exactly one succeeds; the rest get ErrRefreshAlreadyUsed.
	Consume(ctx context.Context, id string, at time.Time) error

	// RevokeByPrincipal consumes every live token of the principal and
	// returns how many were revoked.
	RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error)
}
