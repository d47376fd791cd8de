// Package auth provides application token management and audit logging for the broker API.
//
// # Overview
//
// Consuming applications authenticate to the broker with bearer tokens. Tokens
// are issued per application, carry scopes, and are stored only as SHA256
// hashes; the plaintext is shown once at issue time.
//
// # Tokens
//
//	registry := auth.NewTokenRegistry()
//	appToken, plaintext, err := registry.Issue("ticket-tool", "prod", []auth.Scope{
//		auth.ScopeSettingsRead,
//		auth.ScopeSettingsWrite,
//	}, nil)
//	// plaintext: sso_[base64url(32 random bytes)], hand to the application once
//
// Validation:
//
//	appToken, err := registry.Validate(presented)
//	if err != nil {
//		// unknown, revoked, or expired all look the same to the caller
//	}
//	if !appToken.HasScope(auth.ScopeUsersImport) {
//		// 403
//	}
//
// # Scopes
//
//	ScopeSettingsRead   - Read user settings for the calling application
//	ScopeSettingsWrite  - Write/delete user settings
//	ScopeUsersRead      - Look up identities
//	ScopeUsersImport    - Run the user import/reconciliation endpoints
//	ScopeUsersExport    - Export the user table
//	ScopeAdmin          - Everything, including token management
//
// # Audit Logging
//
// Security-relevant actions are emitted as structured log lines:
//
//	auditLogger := auth.NewAuditLogger(logger)
//	auditLogger.LogFromRequest(r, authCtx, auth.ActionUserImport, "user", report.ID, auth.StatusSuccess, nil)
//
// # Related Packages
//
//   - pkg/middleware: HTTP authentication middleware
//   - pkg/apps: Application registry (which apps exist, what they may access)
package auth
