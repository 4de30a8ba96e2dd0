package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	minPasswordLength = 8
)

// Claims is the signed payload carried by both token kinds. Role and scope
// travel inside the token so access verification needs no store round-trip;
// refresh is the only path that re-checks principal state.
type Claims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org,omitempty"`
	TokenType      string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service issues, verifies, and rotates session tokens.
type Service struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: access TTL must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures the refresh window.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: refresh TTL must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service signing tokens with the given HS256 secret.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     "gatehouse",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	svc.now = time.Now
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.refreshTTL <= svc.accessTTL {
		return nil, errors.New("auth: refresh TTL must exceed access TTL")
	}
	return svc, nil
}

// Register creates a principal. The caller decides the role; the HTTP layer
// forces member for self-service registration.
func (s *Service) Register(ctx context.Context, email, password, organizationID string, role Role) (*Principal, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if role != RoleAdmin && strings.TrimSpace(organizationID) == "" {
		return nil, fmt.Errorf("%w: organization_id is required for role %s", ErrInvalidInput, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &Principal{
		ID:             ids.New(),
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		OrganizationID: strings.TrimSpace(organizationID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Principals(ctx).Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Login authenticates credentials and issues a fresh token pair. Failures are
// uniformly ErrUnauthenticated regardless of which check failed.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	p, err := s.store.Principals(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUnauthenticated
		}
		return TokenPair{}, nil, err
	}
	if !p.Active() {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	pair, err := s.mintPair(ctx, p)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, p, nil
}

// VerifyAccess validates an access token locally (signature and expiry only,
// no store I/O) and returns its claims.
func (s *Service) VerifyAccess(token string) (Claims, error) {
	return s.parse(token, tokenTypeAccess)
}

// Refresh exchanges a live refresh token for a new pair. The presented token
// is consumed first; of concurrent replays exactly one wins. A principal that
// was soft-deleted since issuance fails with ErrPrincipalInactive even though
// the token signature is still valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	tokens := s.store.RefreshTokens(ctx)
	rec, err := tokens.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthenticated
		}
		return TokenPair{}, err
	}
	if !hashMatches(rec.TokenHash, refreshToken) {
		return TokenPair{}, ErrUnauthenticated
	}
	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		return TokenPair{}, ErrRefreshExpired
	}
	// One-time use: the conditional update below is the serialization point
	// for concurrent replays. Never retried on failure.
	if err := tokens.Consume(ctx, rec.ID, now); err != nil {
		return TokenPair{}, err
	}

	p, err := s.store.Principals(ctx).FindByID(ctx, rec.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrPrincipalInactive
		}
		return TokenPair{}, err
	}
	if !p.Active() {
		return TokenPair{}, ErrPrincipalInactive
	}
	return s.mintPair(ctx, p)
}

// Principal looks up a principal by id, soft-deleted rows included.
func (s *Service) Principal(ctx context.Context, id string) (*Principal, error) {
	return s.store.Principals(ctx).FindByID(ctx, id)
}

// RevokeTokens consumes every live refresh token of the principal. Access
// tokens keep verifying until expiry unless a denylist is in front.
func (s *Service) RevokeTokens(ctx context.Context, principalID string) (int64, error) {
	return s.store.RefreshTokens(ctx).RevokeByPrincipal(ctx, principalID, s.now().UTC())
}

// Deactivate soft-deletes the principal and revokes its refresh tokens.
// The row is kept for audit references; there is no hard delete.
func (s *Service) Deactivate(ctx context.Context, principalID string) error {
	now := s.now().UTC()
	if err := s.store.Principals(ctx).SoftDelete(ctx, principalID, now); err != nil {
		return err
	}
	_, err := s.store.RefreshTokens(ctx).RevokeByPrincipal(ctx, principalID, now)
	return err
}

// RotatePassword replaces the credential after verifying the current one and
// revokes outstanding refresh tokens so stolen ones die with the old password.
func (s *Service) RotatePassword(ctx context.Context, principalID, current, next string) error {
	if len(next) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	p, err := s.store.Principals(ctx).FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthenticated
		}
		return err
	}
	if !p.Active() || VerifyPassword(p.PasswordHash, current) != nil {
		return ErrUnauthenticated
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Principals(ctx).UpdatePassword(ctx, principalID, hash); err != nil {
		return err
	}
	_, err = s.store.RefreshTokens(ctx).RevokeByPrincipal(ctx, principalID, s.now().UTC())
	return err
}

func (s *Service) mintPair(ctx context.Context, p *Principal) (TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(p, tokenTypeAccess, uuid.NewString(), now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}

	recordID := ids.New()
	refresh, err := s.sign(p, tokenTypeRefresh, recordID, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	rec := &RefreshToken{
		ID:          recordID,
		PrincipalID: p.ID,
		TokenHash:   hashToken(refresh),
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshableUntil: refreshExp,
	}, nil
}

func (s *Service) sign(p *Principal, tokenType, jti string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role:           string(p.Role),
		OrganizationID: p.OrganizationID,
		TokenType:      tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(token, wantType string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMalformedToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformedToken
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformedToken
	}
	if claims.TokenType != wantType || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return Claims{}, ErrMalformedToken
	}
	return *claims, nil
}

// parseRefresh maps access-style parse failures onto refresh semantics:
// a cryptographically broken or foreign token is simply unauthenticated,
// an expired one reports the closed refresh window.
func (s *Service) parseRefresh(token string) (Claims, error) {
	claims, err := s.parse(token, tokenTypeRefresh)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, ErrTokenExpired):
		return Claims{}, ErrRefreshExpired
	default:
		return Claims{}, ErrUnauthenticated
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func hashMatches(expected, token string) bool {
	actual := hashToken(token)
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
