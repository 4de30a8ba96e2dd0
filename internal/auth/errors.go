package auth

import "errors"

var (
	// ErrUnauthenticated covers missing, garbled, or otherwise unusable
	// credentials. It is deliberately uniform: callers can never tell an
	// unknown email from a wrong password or an unknown refresh token.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means the token verified but the role or scope does not
	// satisfy what the operation requires.
	ErrForbidden = errors.New("auth: forbidden")

	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrMalformedToken   = errors.New("auth: malformed token")

	ErrRefreshExpired     = errors.New("auth: refresh window closed")
	ErrRefreshAlreadyUsed = errors.New("auth: refresh token already used")
	ErrPrincipalInactive  = errors.New("auth: principal inactive")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
