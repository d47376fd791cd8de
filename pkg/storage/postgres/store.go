// Package postgres implements the broker's Store on PostgreSQL. Email
// uniqueness is a unique index on user_emails(email), so alias conflicts
// surface as constraint violations inside the writing transaction rather
// than as check-then-insert races.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	conns  *ConnectionManager
	config storage.Config
}

// NewStore connects to PostgreSQL and returns a Store.
func NewStore(config storage.Config) (*Store, error) {
	conns, err := NewConnectionManager(ConnectionConfig{
		PrimaryURL:  config.PostgresURL,
		MaxConns:    config.PostgresMaxConns,
		MinConns:    config.PostgresMinConns,
		Timeout:     config.PostgresTimeout,
		MaxLifetime: 1 * time.Hour,
		MaxIdleTime: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Store{conns: conns, config: config}, nil
}

// NewStoreWithDB wraps an existing connection, for tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{conns: &ConnectionManager{primary: db}}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	primary_email  TEXT NOT NULL,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	last_accessed  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_emails (
	user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email       TEXT NOT NULL UNIQUE,
	position    INT NOT NULL DEFAULT 0,
	last_login  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS user_permitted_apps (
	user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	app_key  TEXT NOT NULL,
	UNIQUE (user_id, app_key)
);

CREATE TABLE IF NOT EXISTS user_access_profiles (
	user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	profile  TEXT NOT NULL,
	UNIQUE (user_id, profile)
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id     TEXT NOT NULL,
	app_slug    TEXT NOT NULL,
	root_key    TEXT NOT NULL,
	payload     TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, app_slug, root_key)
);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conns.Primary().ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetByEmail implements identity.Store.
func (s *Store) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	query := `SELECT user_id FROM user_emails WHERE email = $1`

	var userID string
	err := s.conns.Replica().QueryRowContext(ctx, query, identity.Normalize(email)).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	return s.loadIdentity(ctx, s.conns.Replica(), userID)
}

// GetByID implements identity.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.loadIdentity(ctx, s.conns.Replica(), id)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) loadIdentity(ctx context.Context, q querier, id string) (*identity.Identity, error) {
	query := `
		SELECT id, primary_email, first_name, last_name, last_accessed, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var ident identity.Identity
	err := q.QueryRowContext(ctx, query, id).Scan(
		&ident.ID,
		&ident.PrimaryEmail,
		&ident.FirstName,
		&ident.LastName,
		&ident.LastAccessed,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT email, last_login FROM user_emails WHERE user_id = $1 ORDER BY position, email`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e identity.EmailAddress
		if err := rows.Scan(&e.Email, &e.LastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		ident.Emails = append(ident.Emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	ident.PermittedApps, err = s.loadStrings(ctx, q,
		`SELECT app_key FROM user_permitted_apps WHERE user_id = $1 ORDER BY app_key`, id)
	if err != nil {
		return nil, err
	}
	ident.AccessProfiles, err = s.loadStrings(ctx, q,
		`SELECT profile FROM user_access_profiles WHERE user_id = $1 ORDER BY profile`, id)
	if err != nil {
		return nil, err
	}

	return &ident, nil
}

func (s *Store) loadStrings(ctx context.Context, q querier, query, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query user attributes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Apply implements identity.Store. The whole decision runs in one
// transaction: absorbed duplicates are deleted first so their addresses are
// free for the survivor, then the survivor and its email set are written.
// An address still owned by an uninvolved identity trips the unique index
// and rolls everything back.
func (s *Store) Apply(ctx context.Context, d *identity.Decision) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if len(d.DeleteIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM users WHERE id = ANY($1)`, pq.Array(d.DeleteIDs)); err != nil {
			return fmt.Errorf("failed to delete absorbed users: %w", err)
		}
	}

	ident := d.Identity
	now := time.Now().UTC()
	upsert := `
		INSERT INTO users (id, primary_email, first_name, last_name, last_accessed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			primary_email = EXCLUDED.primary_email,
			first_name    = EXCLUDED.first_name,
			last_name     = EXCLUDED.last_name,
			last_accessed = EXCLUDED.last_accessed,
			updated_at    = EXCLUDED.updated_at
	`
	createdAt := ident.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if _, err := tx.ExecContext(ctx, upsert,
		ident.ID, ident.PrimaryEmail, ident.FirstName, ident.LastName,
		ident.LastAccessed, createdAt, now,
	); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	emails := make([]string, len(ident.Emails))
	for i, e := range ident.Emails {
		emails[i] = e.Email
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_emails WHERE user_id = $1 AND NOT (email = ANY($2))`,
		ident.ID, pq.Array(emails)); err != nil {
		return fmt.Errorf("failed to prune emails: %w", err)
	}

	for i, e := range ident.Emails {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_emails (user_id, email, position, last_login)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO UPDATE SET
				position   = EXCLUDED.position,
				last_login = COALESCE(user_emails.last_login, EXCLUDED.last_login)
			WHERE user_emails.user_id = EXCLUDED.user_id
		`, ident.ID, e.Email, i, e.LastLogin)
		if err != nil {
			return fmt.Errorf("failed to upsert email %s: %w", e.Email, err)
		}

		// The conditional upsert is a no-op when the address belongs to a
		// different, still-live identity. Detect that and abort.
		var owner string
		if err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM user_emails WHERE email = $1`, e.Email).Scan(&owner); err != nil {
			return fmt.Errorf("failed to verify email ownership: %w", err)
		}
		if owner != ident.ID {
			return &identity.AliasConflictError{Email: e.Email, OwnerID: owner}
		}
	}

	for _, app := range d.GrantApps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permitted_apps (user_id, app_key)
			VALUES ($1, $2)
			ON CONFLICT (user_id, app_key) DO NOTHING
		`, ident.ID, app); err != nil {
			return fmt.Errorf("failed to grant application %s: %w", app, err)
		}
	}

	for _, profile := range ident.AccessProfiles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_access_profiles (user_id, profile)
			VALUES ($1, $2)
			ON CONFLICT (user_id, profile) DO NOTHING
		`, ident.ID, profile); err != nil {
			return fmt.Errorf("failed to store access profile %s: %w", profile, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if conflict := asAliasConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// AddAlias implements identity.Store.
func (s *Store) AddAlias(ctx context.Context, identityID, email string) error {
	email = identity.Normalize(email)

	var exists bool
	err := s.conns.Primary().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, identityID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return identity.ErrNotFound
	}

	var position int
	if err := s.conns.Primary().QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM user_emails WHERE user_id = $1`,
		identityID).Scan(&position); err != nil {
		return fmt.Errorf("failed to compute alias position: %w", err)
	}

	_, err = s.conns.Primary().ExecContext(ctx,
		`INSERT INTO user_emails (user_id, email, position) VALUES ($1, $2, $3)`,
		identityID, email, position)
	if err != nil {
		if isUniqueViolation(err) {
			var owner string
			if scanErr := s.conns.Primary().QueryRowContext(ctx,
				`SELECT user_id FROM user_emails WHERE email = $1`, email).Scan(&owner); scanErr == nil {
				if owner == identityID {
					return nil // already attached
				}
				return &identity.AliasConflictError{Email: email, OwnerID: owner}
			}
			return &identity.AliasConflictError{Email: email}
		}
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// RecordLogin implements identity.Store.
func (s *Store) RecordLogin(ctx context.Context, email string, at time.Time) error {
	email = identity.Normalize(email)
	at = at.UTC()

	res, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE user_emails SET last_login = $2 WHERE email = $1`, email, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check login update: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}

	_, err = s.conns.Primary().ExecContext(ctx, `
		UPDATE users SET last_accessed = $2, updated_at = $2
		WHERE id = (SELECT user_id FROM user_emails WHERE email = $1)
	`, email, at)
	if err != nil {
		return fmt.Errorf("failed to stamp last access: %w", err)
	}
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context) ([]*identity.Identity, error) {
	ids, err := s.loadStringsNoArg(ctx, `SELECT id FROM users ORDER BY primary_email`)
	if err != nil {
		return nil, err
	}

	out := make([]*identity.Identity, 0, len(ids))
	for _, id := range ids {
		ident, err := s.loadIdentity(ctx, s.conns.Replica(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, nil
}

func (s *Store) loadStringsNoArg(ctx context.Context, query string) ([]string, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// HealthCheck implements storage.Store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.conns.HealthCheck(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.conns.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func asAliasConflict(err error) *identity.AliasConflictError {
	if isUniqueViolation(err) {
		return &identity.AliasConflictError{}
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
