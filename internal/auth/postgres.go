package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Advisory lock ids serializing the invariant-sensitive transactions. The
// update lock reduces concurrent role/scope writers to a strict sequence so
// two "demote the last two admins" requests cannot both pass the count check.
const (
	bootstrapLockID = 86421357
	updateLockID    = 86421358
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetClaims(ctx context.Context, userID string) (Claims, error) {
	row := s.db.QueryRowContext(ctx,
		`select role, scopes, token_version from users where id=$1`, userID)
	return scanClaims(row)
}

func (s *PGStore) UpdateClaims(ctx context.Context, userID string, role Role, scopes []string) (Claims, error) {
	role = NormalizeRole(string(role))
	scopes = NormalizeScopes(scopes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Claims{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, updateLockID); err != nil {
		return Claims{}, err
	}

	var currentRole string
	err = tx.QueryRowContext(ctx, `select role from users where id=$1`, userID).Scan(&currentRole)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claims{}, ErrNotFound
		}
		return Claims{}, err
	}

	if NormalizeRole(currentRole) == RoleAdmin && role != RoleAdmin {
		var adminCount int
		err = tx.QueryRowContext(ctx, `select count(*) from users where role=$1`, string(RoleAdmin)).Scan(&adminCount)
		if err != nil {
			return Claims{}, err
		}
		if adminCount <= 1 {
			// Rolled back; no version bump is observable.
			return Claims{}, ErrLastAdmin
		}
	}

	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return Claims{}, err
	}
	row := tx.QueryRowContext(ctx,
		`update users set role=$1, scopes=$2, token_version=token_version+1, updated_at=now()
		 where id=$3
		 returning role, scopes, token_version`,
		string(role), scopesJSON, userID)
	claims, err := scanClaims(row)
	if err != nil {
		return Claims{}, err
	}
	if err := tx.Commit(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (s *PGStore) Revoke(ctx context.Context, userID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`update users set token_version=token_version+1, updated_at=now()
		 where id=$1
		 returning token_version`, userID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return NormalizeTokenVersion(version), nil
}

func (s *PGStore) BootstrapFirstAdmin(ctx context.Context, userID string, scopes []string) (Claims, error) {
	scopes = NormalizeScopes(scopes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Claims{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, bootstrapLockID); err != nil {
		return Claims{}, err
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`select exists(select 1 from users where role=$1)`, string(RoleAdmin)).Scan(&exists)
	if err != nil {
		return Claims{}, err
	}
	if exists {
		return Claims{}, ErrAlreadyInitialized
	}

	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return Claims{}, err
	}
	row := tx.QueryRowContext(ctx,
		`update users set role=$1, scopes=$2, token_version=token_version+1, updated_at=now()
		 where id=$3
		 returning role, scopes, token_version`,
		string(RoleAdmin), scopesJSON, userID)
	claims, err := scanClaims(row)
	if err != nil {
		return Claims{}, err
	}
	if err := tx.Commit(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (s *PGStore) HasAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where role=$1)`, string(RoleAdmin)).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanClaims reads role, scopes (jsonb) and token_version, normalizing the
// result so nothing malformed in the database escapes the store boundary.
func scanClaims(row rowScanner) (Claims, error) {
	var (
		role    string
		scopes  []byte
		version int64
	)
	if err := row.Scan(&role, &scopes, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claims{}, ErrNotFound
		}
		return Claims{}, err
	}
	var scopeList []string
	_ = json.Unmarshal(scopes, &scopeList)
	return NormalizeClaims(Claims{
		Role:         Role(role),
		Scopes:       scopeList,
		TokenVersion: version,
	}), nil
}
