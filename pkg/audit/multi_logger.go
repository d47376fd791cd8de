package audit

import (
	"context"
	"fmt"
	"strings"
)

// MultiLogger fans every event out to several backends. A failing backend
// never blocks the others; all failures are reported together.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to all given backends
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log records the event on every backend.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var failures []string
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to log audit event: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Close closes every backend.
func (m *MultiLogger) Close() error {
	var failures []string
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to close audit loggers: %s", strings.Join(failures, "; "))
	}
	return nil
}
