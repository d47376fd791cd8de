package audit

import (
	"context"

	"github.com/crossfield/ssobroker/pkg/auth"
)

// AuthSink adapts a durable audit Logger into the sink pkg/auth.AuditLogger
// forwards to, mapping its log entries onto AuditEvents.
type AuthSink struct {
	logger Logger
}

// NewAuthSink wraps a backend for use behind auth.AuditLogger.
func NewAuthSink(logger Logger) *AuthSink {
	return &AuthSink{logger: logger}
}

// Record converts and persists one auth audit entry.
func (s *AuthSink) Record(ctx context.Context, log *auth.AuditLog) error {
	event := NewEvent(ctx, EventType(log.Action), EventStatus(log.Status))
	event.AppKey = log.AppKey
	event.UserID = log.UserID
	event.ResourceType = ResourceType(log.ResourceType)
	event.ResourceID = log.ResourceID
	event.IPAddress = log.IPAddress
	event.UserAgent = log.UserAgent
	event.ErrorMessage = log.ErrorMessage
	if !log.CreatedAt.IsZero() {
		event.Timestamp = log.CreatedAt.UTC()
	}
	return s.logger.Log(ctx, event)
}

// Close closes the wrapped backend.
func (s *AuthSink) Close() error {
	return s.logger.Close()
}
