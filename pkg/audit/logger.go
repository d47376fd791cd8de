package audit

import (
	"context"
	"time"

	"github.com/crossfield/ssobroker/pkg/observability"
)

// Logger is the interface a durable audit backend implements.
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// Searcher is implemented by backends that can answer trail queries.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// NewEvent builds an event with the timestamp and request ID filled in.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
	}
}

// NopLogger discards every event. Used when the trail is disabled.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (NopLogger) Close() error { return nil }
