// Package sqlite implements the broker's Store on SQLite, for single-node
// deployments and local development. It keeps the same schema shape and
// constraint behavior as the PostgreSQL backend: a unique index on emails
// turns alias conflicts into constraint violations inside the transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
	"github.com/crossfield/ssobroker/pkg/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database file and runs migrations.
func NewStore(path string) (*Store, error) {
	// _foreign_keys enables ON DELETE CASCADE; _busy_timeout keeps
	// concurrent writers from failing immediately with SQLITE_BUSY.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// database-locked errors under concurrent use.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	primary_email  TEXT NOT NULL,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	last_accessed  TIMESTAMP,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_emails (
	user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email       TEXT NOT NULL UNIQUE,
	position    INTEGER NOT NULL DEFAULT 0,
	last_login  TIMESTAMP
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
	updated_at  TIMESTAMP NOT NULL,
	UNIQUE (user_id, app_slug, root_key)
);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetByEmail implements identity.Store.
func (s *Store) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_emails WHERE email = ?`, identity.Normalize(email)).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, identity.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return s.loadIdentity(ctx, userID)
}

// GetByID implements identity.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.loadIdentity(ctx, id)
}

func (s *Store) loadIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	var ident identity.Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, primary_email, first_name, last_name, last_accessed, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT email, last_login FROM user_emails WHERE user_id = ? ORDER BY position, email`, id)
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

	if ident.PermittedApps, err = s.stringColumn(ctx,
		`SELECT app_key FROM user_permitted_apps WHERE user_id = ? ORDER BY app_key`, id); err != nil {
		return nil, err
	}
	if ident.AccessProfiles, err = s.stringColumn(ctx,
		`SELECT profile FROM user_access_profiles WHERE user_id = ? ORDER BY profile`, id); err != nil {
		return nil, err
	}
	return &ident, nil
}

func (s *Store) stringColumn(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Apply implements identity.Store.
func (s *Store) Apply(ctx context.Context, d *identity.Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range d.DeleteIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete absorbed user: %w", err)
		}
	}

	ident := d.Identity
	now := time.Now().UTC()
	createdAt := ident.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, primary_email, first_name, last_name, last_accessed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			primary_email = excluded.primary_email,
			first_name    = excluded.first_name,
			last_name     = excluded.last_name,
			last_accessed = excluded.last_accessed,
			updated_at    = excluded.updated_at
	`, ident.ID, ident.PrimaryEmail, ident.FirstName, ident.LastName,
		ident.LastAccessed, createdAt, now); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_emails WHERE user_id = ?`, ident.ID); err != nil {
		return fmt.Errorf("failed to prune emails: %w", err)
	}
	for i, e := range ident.Emails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_emails (user_id, email, position, last_login) VALUES (?, ?, ?, ?)`,
			ident.ID, e.Email, i, e.LastLogin); err != nil {
			if isUniqueViolation(err) {
				var owner string
				if scanErr := tx.QueryRowContext(ctx,
					`SELECT user_id FROM user_emails WHERE email = ?`, e.Email).Scan(&owner); scanErr == nil {
					return &identity.AliasConflictError{Email: e.Email, OwnerID: owner}
				}
				return &identity.AliasConflictError{Email: e.Email}
			}
			return fmt.Errorf("failed to insert email %s: %w", e.Email, err)
		}
	}

	for _, app := range d.GrantApps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permitted_apps (user_id, app_key) VALUES (?, ?)
			ON CONFLICT (user_id, app_key) DO NOTHING
		`, ident.ID, app); err != nil {
			return fmt.Errorf("failed to grant application %s: %w", app, err)
		}
	}
	for _, profile := range ident.AccessProfiles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_access_profiles (user_id, profile) VALUES (?, ?)
			ON CONFLICT (user_id, profile) DO NOTHING
		`, ident.ID, profile); err != nil {
			return fmt.Errorf("failed to store access profile %s: %w", profile, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddAlias implements identity.Store.
func (s *Store) AddAlias(ctx context.Context, identityID, email string) error {
	email = identity.Normalize(email)

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`, identityID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return identity.ErrNotFound
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_emails (user_id, email, position)
		SELECT ?, ?, COALESCE(MAX(position), -1) + 1 FROM user_emails WHERE user_id = ?
	`, identityID, email, identityID)
	if err != nil {
		if isUniqueViolation(err) {
			var owner string
			if scanErr := s.db.QueryRowContext(ctx,
				`SELECT user_id FROM user_emails WHERE email = ?`, email).Scan(&owner); scanErr == nil {
				if owner == identityID {
					return nil
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

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_emails SET last_login = ? WHERE email = ?`, at, email)
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

	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_accessed = ?, updated_at = ?
		WHERE id = (SELECT user_id FROM user_emails WHERE email = ?)
	`, at, at, email); err != nil {
		return fmt.Errorf("failed to stamp last access: %w", err)
	}
	return nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context) ([]*identity.Identity, error) {
	ids, err := s.stringColumn(ctx, `SELECT id FROM users ORDER BY primary_email`)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.Identity, 0, len(ids))
	for _, id := range ids {
		ident, err := s.loadIdentity(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, nil
}

// RowsFor implements settings.Store.
func (s *Store) RowsFor(ctx context.Context, userID, appSlug string) ([]settings.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT root_key, payload FROM user_settings
		WHERE user_id = ? AND app_slug = ?
		ORDER BY root_key
	`, userID, appSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings rows: %w", err)
	}
	defer rows.Close()

	var out []settings.Row
	for rows.Next() {
		var row settings.Row
		if err := rows.Scan(&row.RootKey, &row.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AppSlugs implements settings.Store.
func (s *Store) AppSlugs(ctx context.Context, userID string) ([]string, error) {
	return s.stringColumn(ctx, `
		SELECT DISTINCT app_slug FROM user_settings
		WHERE user_id = ?
		ORDER BY app_slug
	`, userID)
}

// PutRow implements settings.Store.
func (s *Store) PutRow(ctx context.Context, userID, appSlug string, row settings.Row) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, app_slug, root_key, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, app_slug, root_key) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, userID, appSlug, row.RootKey, row.Payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert settings row: %w", err)
	}
	return nil
}

// DeleteRowsMatchingPrefix implements settings.Store.
func (s *Store) DeleteRowsMatchingPrefix(ctx context.Context, userID, appSlug, prefix string) (int64, error) {
	rootKey := settings.RootKeyOf(prefix)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM user_settings
		WHERE user_id = ? AND app_slug = ? AND root_key = ?
	`, userID, appSlug, rootKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to load settings row: %w", err)
	}

	replacement, remove, err := settings.ApplyPrefixDelete(settings.Row{RootKey: rootKey, Payload: payload}, prefix)
	if err != nil {
		return 0, err
	}

	if remove {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM user_settings WHERE user_id = ? AND app_slug = ? AND root_key = ?
		`, userID, appSlug, rootKey)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE user_settings SET payload = ?, updated_at = ?
			WHERE user_id = ? AND app_slug = ? AND root_key = ?
		`, replacement.Payload, time.Now().UTC(), userID, appSlug, rootKey)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to apply settings delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return 1, nil
}

// HealthCheck implements storage.Store.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite unhealthy: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

var _ storage.Store = (*Store)(nil)
