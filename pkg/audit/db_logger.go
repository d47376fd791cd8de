package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger persists the audit trail in an audit_events table.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Migrate creates the audit_events table if it does not exist.
func (l *DBLogger) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		event_type VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		app_key VARCHAR(255),
		user_id VARCHAR(255),
		resource_type VARCHAR(64),
		resource_id VARCHAR(255),
		ip_address VARCHAR(64),
		user_agent TEXT,
		request_id VARCHAR(64),
		method VARCHAR(16),
		path TEXT,
		message TEXT,
		error_message TEXT,
		metadata JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_app_key ON audit_events(app_key);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate audit_events: %w", err)
	}
	return nil
}

// Log inserts one event.
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, status, app_key, user_id,
			resource_type, resource_id, ip_address, user_agent, request_id,
			method, path, message, error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		event.Timestamp, event.EventType, event.Status,
		nullString(event.AppKey), nullString(event.UserID),
		nullString(string(event.ResourceType)), nullString(event.ResourceID),
		nullString(event.IPAddress), nullString(event.UserAgent), nullString(event.RequestID),
		nullString(event.Method), nullString(event.Path),
		nullString(event.Message), nullString(event.ErrorMessage),
		metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conds = append(conds, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conds = append(conds, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.AppKey != "" {
		conds = append(conds, "app_key = "+arg(filter.AppKey))
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = "+arg(filter.UserID))
	}
	if filter.Status != nil {
		conds = append(conds, "status = "+arg(string(*filter.Status)))
	}
	if filter.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(string(filter.ResourceType)))
	}
	if filter.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(filter.ResourceID))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = arg(string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, timestamp, event_type, status,
			COALESCE(app_key, ''), COALESCE(user_id, ''),
			COALESCE(resource_type, ''), COALESCE(resource_id, ''),
			COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''),
			COALESCE(method, ''), COALESCE(path, ''),
			COALESCE(message, ''), COALESCE(error_message, ''), metadata
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			metadata []byte
		)
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status,
			&event.AppKey, &event.UserID,
			&event.ResourceType, &event.ResourceID,
			&event.IPAddress, &event.UserAgent, &event.RequestID,
			&event.Method, &event.Path,
			&event.Message, &event.ErrorMessage, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// Purge deletes events older than the cutoff and reports how many went.
func (l *DBLogger) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the connection pool is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
