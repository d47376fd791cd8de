package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crossfield/ssobroker/pkg/settings"
)

const settingsRowsQuery = `
	SELECT root_key, payload
	FROM user_settings
	WHERE user_id = $1 AND app_slug = $2
	ORDER BY root_key
`

const settingsUpsertQuery = `
	INSERT INTO user_settings (user_id, app_slug, root_key, payload, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (user_id, app_slug, root_key) DO UPDATE SET
		payload    = EXCLUDED.payload,
		updated_at = now()
`

// RowsFor implements settings.Store.
func (s *Store) RowsFor(ctx context.Context, userID, appSlug string) ([]settings.Row, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, settingsRowsQuery, userID, appSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings rows: %w", err)
	}
	return collectSettingsRows(rows)
}

func collectSettingsRows(rows *sql.Rows) ([]settings.Row, error) {
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
	query := `
		SELECT DISTINCT app_slug
		FROM user_settings
		WHERE user_id = $1
		ORDER BY app_slug
	`

	rows, err := s.conns.Replica().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings namespaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// PutRow implements settings.Store. The unique index on
// (user_id, app_slug, root_key) makes this an upsert, keeping at most one
// row per root key without a separate existence check.
func (s *Store) PutRow(ctx context.Context, userID, appSlug string, row settings.Row) error {
	if _, err := s.conns.Primary().ExecContext(ctx, settingsUpsertQuery, userID, appSlug, row.RootKey, row.Payload); err != nil {
		return fmt.Errorf("failed to upsert settings row: %w", err)
	}
	return nil
}

// UpdateRows implements settings.TxStore. The advisory lock keys on the
// (user, app) pair and is transaction scoped, so it releases on commit or
// rollback; while held, a concurrent UpdateRows for the same pair blocks on
// any broker instance sharing the database. The load runs on the primary
// inside the same transaction, so fn always sees the rows the previous
// writer committed.
func (s *Store) UpdateRows(ctx context.Context, userID, appSlug string, fn func(existing []settings.Row) ([]settings.Row, error)) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		userID, appSlug,
	); err != nil {
		return fmt.Errorf("failed to acquire settings lock: %w", err)
	}

	rows, err := tx.QueryContext(ctx, settingsRowsQuery, userID, appSlug)
	if err != nil {
		return fmt.Errorf("failed to query settings rows: %w", err)
	}
	existing, err := collectSettingsRows(rows)
	if err != nil {
		return err
	}

	changed, err := fn(existing)
	if err != nil {
		return err
	}

	for _, row := range changed {
		if _, err := tx.ExecContext(ctx, settingsUpsertQuery, userID, appSlug, row.RootKey, row.Payload); err != nil {
			return fmt.Errorf("failed to upsert settings row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteRowsMatchingPrefix implements settings.Store. The affected row is
// locked for the duration of the transaction so a concurrent writer cannot
// interleave between the read-modify and the write-back.
func (s *Store) DeleteRowsMatchingPrefix(ctx context.Context, userID, appSlug, prefix string) (int64, error) {
	rootKey := settings.RootKeyOf(prefix)

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM user_settings
		WHERE user_id = $1 AND app_slug = $2 AND root_key = $3
		FOR UPDATE
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
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM user_settings
			WHERE user_id = $1 AND app_slug = $2 AND root_key = $3
		`, userID, appSlug, rootKey); err != nil {
			return 0, fmt.Errorf("failed to delete settings row: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_settings SET payload = $4, updated_at = now()
			WHERE user_id = $1 AND app_slug = $2 AND root_key = $3
		`, userID, appSlug, rootKey, replacement.Payload); err != nil {
			return 0, fmt.Errorf("failed to rewrite settings row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return 1, nil
}
