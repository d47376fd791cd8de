package audit

import (
	"encoding/json"
	"time"
)

// EventType categorizes an audit event. The values match the action strings
// pkg/auth emits so the durable trail and the service log line up.
type EventType string

const (
	// Authentication events
	EventTypeLoginSuccess EventType = "login.success"
	EventTypeLoginFailure EventType = "login.failure"
	EventTypeAuthSuccess  EventType = "auth.success"
	EventTypeAuthFailure  EventType = "auth.failure"
	EventTypeTokenIssue   EventType = "token.issue"
	EventTypeTokenRevoke  EventType = "token.revoke"

	// User population events
	EventTypeUserImport EventType = "user.import"
	EventTypeUserMerge  EventType = "user.merge"
	EventTypeUserDelete EventType = "user.delete"
	EventTypeUserExport EventType = "user.export"
	EventTypeAliasAdd   EventType = "alias.add"

	// Settings events
	EventTypeSettingsRead   EventType = "settings.read"
	EventTypeSettingsWrite  EventType = "settings.write"
	EventTypeSettingsDelete EventType = "settings.delete"

	// Upstream provider configuration events
	EventTypeProviderCreate EventType = "provider.create"
	EventTypeProviderUpdate EventType = "provider.update"
	EventTypeProviderDelete EventType = "provider.delete"

	// Broker session events
	EventTypeSessionCreate EventType = "session.create"
	EventTypeSessionExpire EventType = "session.expire"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event touched
type ResourceType string

const (
	ResourceTypeUser        ResourceType = "user"
	ResourceTypeAlias       ResourceType = "alias"
	ResourceTypeSettings    ResourceType = "settings"
	ResourceTypeApplication ResourceType = "application"
	ResourceTypeToken       ResourceType = "token"
	ResourceTypeProvider    ResourceType = "provider"
	ResourceTypeSession     ResourceType = "session"
	ResourceTypeExport      ResourceType = "export"
)

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor: the calling application and, when resolved, the subject user.
	AppKey string `json:"app_key,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter narrows an audit trail query.
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	AppKey string
	UserID string

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string

	// Pagination, newest first
	Limit  int
	Offset int
}

// Matches reports whether an event passes the filter. Used by the in-memory
// search path of the file backend; the DB backend filters in SQL.
func (f *SearchFilter) Matches(e *AuditEvent) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.AppKey != "" && e.AppKey != f.AppKey {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
