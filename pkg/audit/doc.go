// Package audit provides the persistent security audit trail.
//
// # Overview
//
// Every security-relevant operation (logins, token checks, imports, exports,
// settings changes, provider changes) is recorded as an AuditEvent. Events
// always ride the structured service log via pkg/auth.AuditLogger; this
// package adds durable backends behind it and a query API for operators.
//
// # Backends
//
// FileLogger: newline-delimited JSON with size-based rotation
//
//	logger, _ := audit.NewFileLogger(audit.FileLoggerConfig{
//		BasePath: "/var/log/ssobroker/audit",
//		Rotate:   true,
//	})
//
// DBLogger: audit_events table in PostgreSQL, searchable
//
//	trail := audit.NewDBLogger(db)
//	trail.Migrate(ctx)
//
// MultiLogger: fan-out to several backends at once.
//
// # Wiring
//
// NewAuthSink adapts any Logger into the sink pkg/auth.AuditLogger forwards
// to, so handlers keep calling LogFromRequest and the trail fills itself.
//
// # Query API
//
// Handlers exposes GET /admin/audit (filtered search) and
// GET /admin/audit/export (csv or ndjson) for the admin scope.
package audit
