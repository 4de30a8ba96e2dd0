package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/query"
)

// Store is the Postgres persistence layer for principals, refresh tokens,
// and audit events.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; tests use this with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Principals(_ context.Context) auth.PrincipalStore { return principals{db: s.db} }

func (s *Store) RefreshTokens(_ context.Context) auth.RefreshTokenStore {
	return refreshTokens{db: s.db}
}

type principals struct {
	db *sql.DB
}

func (p principals) Create(ctx context.Context, pr *auth.Principal) error {
	_, err := p.db.ExecContext(ctx, `
		insert into principals(id, email, password_hash, role, organization_id, created_at, updated_at)
		values ($1, $2, $3, $4, nullif($5,''), $6, $7)
	`, pr.ID, pr.Email, pr.PasswordHash, string(pr.Role), pr.OrganizationID, pr.CreatedAt, pr.UpdatedAt)
	return mapAuthErr(err)
}

const principalColumns = `id, email, password_hash, role, coalesce(organization_id,''), created_at, updated_at, deleted_at`

// FindByID returns soft-deleted principals too; liveness is the caller's
// concern.
func (p principals) FindByID(ctx context.Context, id string) (*auth.Principal, error) {
	row := p.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (p principals) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	row := p.db.QueryRowContext(ctx, `select `+principalColumns+` from principals where email=$1`, email)
	return scanPrincipal(row)
}

func (p principals) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `
		update principals set password_hash=$2, updated_at=now() where id=$1 and deleted_at is null
	`, id, passwordHash)
	if err != nil {
		return mapAuthErr(err)
	}
	return requireRow(res)
}

func (p principals) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		update principals set deleted_at=$2, updated_at=$2 where id=$1 and deleted_at is null
	`, id, at)
	if err != nil {
		return mapAuthErr(err)
	}
	return requireRow(res)
}

func scanPrincipal(row *sql.Row) (*auth.Principal, error) {
	var pr auth.Principal
	var role string
	var deleted sql.NullTime
	err := row.Scan(&pr.ID, &pr.Email, &pr.PasswordHash, &role, &pr.OrganizationID, &pr.CreatedAt, &pr.UpdatedAt, &deleted)
	if err != nil {
		return nil, mapAuthErr(err)
	}
	pr.Role = auth.Role(role)
	if deleted.Valid {
		t := deleted.Time
		pr.DeletedAt = &t
	}
	return &pr, nil
}

type refreshTokens struct {
	db *sql.DB
}

func (r refreshTokens) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		insert into refresh_tokens(id, principal_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, tok.ID, tok.PrincipalID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt)
	return mapAuthErr(err)
}

func (r refreshTokens) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	var consumed sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		select id, principal_id, token_hash, issued_at, expires_at, consumed_at
		from refresh_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.PrincipalID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &consumed)
	if err != nil {
		return nil, mapAuthErr(err)
	}
	if consumed.Valid {
		t := consumed.Time
		tok.ConsumedAt = &t
	}
	return &tok, nil
}

// Consume is a single conditional update: of N concurrent exchanges of the
// same token exactly one sees RowsAffected == 1, the rest lose the race.
func (r refreshTokens) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		update refresh_tokens set consumed_at=$2 where id=$1 and consumed_at is null
	`, id, at)
	if err != nil {
		return mapAuthErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrRefreshAlreadyUsed
	}
	return nil
}

func (r refreshTokens) RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		update refresh_tokens set consumed_at=$2 where principal_id=$1 and consumed_at is null
	`, principalID, at)
	if err != nil {
		return 0, mapAuthErr(err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// mapAuthErr folds driver failures into the store contract the callers
// branch on.
func mapAuthErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return query.ErrStoreTimeout
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", query.ErrStoreCanceled, err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", query.ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", auth.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}
