package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crossfield/ssobroker/pkg/observability"
)

// AuditLog represents a security audit log entry
type AuditLog struct {
	AppKey       string    `json:"app_key,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditSink is a durable backend audit entries are forwarded to in addition
// to the structured log, e.g. the pkg/audit file or database trail.
type AuditSink interface {
	Record(ctx context.Context, log *AuditLog) error
}

// AuditLogger emits security audit events as structured log lines, so the
// audit trail rides the same pipeline as the rest of the service logs. An
// optional sink persists the same entries durably.
type AuditLogger struct {
	logger *observability.Logger
	sink   AuditSink
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// SetSink attaches a durable backend. A nil sink detaches it.
func (al *AuditLogger) SetSink(sink AuditSink) {
	al.sink = sink
}

// LogAction logs an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	log.CreatedAt = time.Now()

	fields := map[string]interface{}{
		"audit":         true,
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"status":        log.Status,
	}
	if log.AppKey != "" {
		fields["app_key"] = log.AppKey
	}
	if log.UserID != "" {
		fields["user_id"] = log.UserID
	}
	if log.ResourceID != "" {
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.UserAgent != "" {
		fields["user_agent"] = log.UserAgent
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := al.logger.WithFields(fields)
	if log.ErrorMessage != "" {
		entry.WithField("error_message", log.ErrorMessage).Warn("audit event")
	} else {
		entry.Info("audit event")
	}

	// Sink failures must not break the request path.
	if al.sink != nil {
		if err := al.sink.Record(ctx, log); err != nil {
			al.logger.WithError(err).Error("failed to persist audit event")
		}
	}
	return nil
}

// LogFromRequest creates an audit log from an HTTP request
func (al *AuditLogger) LogFromRequest(r *http.Request, authCtx *AuthContext, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    getClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}

	if authCtx != nil {
		log.AppKey = authCtx.AppKey
	}
	if err != nil {
		log.ErrorMessage = err.Error()
	}

	return al.LogAction(r.Context(), log)
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return forwarded
	}

	// Check X-Real-IP header
	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// Use remote address
	return r.RemoteAddr
}

// Common audit action constants
const (
	ActionUserImport        = "user.import"
	ActionUserMerge         = "user.merge"
	ActionUserDelete        = "user.delete"
	ActionUserExport        = "user.export"
	ActionAliasAdd          = "alias.add"
	ActionSettingsRead      = "settings.read"
	ActionSettingsWrite     = "settings.write"
	ActionSettingsDelete    = "settings.delete"
	ActionTokenIssue        = "token.issue"
	ActionTokenRevoke       = "token.revoke"
	ActionAuthSuccess       = "auth.success"
	ActionAuthFailure       = "auth.failure"
	ActionLoginSuccess      = "login.success"
	ActionLoginFailure      = "login.failure"
	ActionSessionCreate     = "session.create"
	ActionSessionExpire     = "session.expire"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
