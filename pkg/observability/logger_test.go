package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/crossfield/ssobroker/pkg/contextkeys"
)

// decodeLogLine parses one slog JSON line into a map. slog emits fields at
// the top level alongside "level" and "msg".
func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("resolving alias")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("user resolved")
		if buf.Len() == 0 {
			t.Error("Info message should be logged at Info level")
		}

		entry := decodeLogLine(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "user resolved" {
			t.Errorf("Expected message 'user resolved', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("alias conflict")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("import failed")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("provider", "okta").Info("callback received")

	entry := decodeLogLine(t, &buf)
	if entry["provider"] != "okta" {
		t.Errorf("Expected field 'provider' to be 'okta', got %v", entry["provider"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	fields := map[string]interface{}{
		"app_key":       "wiki",
		"rows_imported": 42,
	}
	logger.WithFields(fields).Info("import complete")

	entry := decodeLogLine(t, &buf)
	if entry["app_key"] != "wiki" {
		t.Errorf("Expected field 'app_key' to be 'wiki', got %v", entry["app_key"])
	}
	if entry["rows_imported"] != float64(42) {
		t.Errorf("Expected field 'rows_imported' to be 42, got %v", entry["rows_imported"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("connection refused")).Error("reconcile failed")

	entry := decodeLogLine(t, &buf)
	if entry["error"] != "connection refused" {
		t.Errorf("Expected error field 'connection refused', got %v", entry["error"])
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(nil).Info("nothing to report")

	entry := decodeLogLine(t, &buf)
	if _, exists := entry["error"]; exists {
		t.Error("nil error should not add an error field")
	}
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("Debugf", func(t *testing.T) {
		buf.Reset()
		debugLogger := NewLogger(DebugLevel, &buf)
		debugLogger.Debugf("matched %d aliases for %s", 3, "ada@corp.example")

		entry := decodeLogLine(t, &buf)
		if entry["msg"] != "matched 3 aliases for ada@corp.example" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Infof", func(t *testing.T) {
		buf.Reset()
		logger.Infof("imported %d users", 123)

		entry := decodeLogLine(t, &buf)
		if entry["msg"] != "imported 123 users" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Warnf", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("skipping row %d", 7)

		entry := decodeLogLine(t, &buf)
		if entry["msg"] != "skipping row 7" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Errorf", func(t *testing.T) {
		buf.Reset()
		logger.Errorf("export upload failed: %v", "timeout")

		entry := decodeLogLine(t, &buf)
		if entry["msg"] != "export upload failed: timeout" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		requestID := GetRequestID(ctx)
		if requestID != "req-123" {
			t.Errorf("Expected request ID 'req-123', got %s", requestID)
		}
	})

	t.Run("UserID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithUserID(ctx, "user-456")

		userID := GetUserID(ctx)
		if userID != "user-456" {
			t.Errorf("Expected user ID 'user-456', got %s", userID)
		}
	})

	t.Run("Logger", func(t *testing.T) {
		ctx := context.Background()
		logger := NewLogger(InfoLevel, nil)
		ctx = WithLogger(ctx, logger)

		retrievedLogger := GetLogger(ctx)
		if retrievedLogger != logger {
			t.Error("Expected to retrieve the same logger from context")
		}
	})

	t.Run("FromContext", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		ctx := context.Background()
		ctx = WithLogger(ctx, logger)
		ctx = WithRequestID(ctx, "req-123")
		ctx = WithUserID(ctx, "user-456")

		contextLogger := FromContext(ctx)
		contextLogger.Info("settings updated")

		entry := decodeLogLine(t, &buf)
		if entry["request_id"] != "req-123" {
			t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
		}
		if entry["user_id"] != "user-456" {
			t.Errorf("Expected user_id 'user-456', got %v", entry["user_id"])
		}
	})
}

// Request IDs set by the HTTP middleware land in the shared key space, so
// loggers built here must see them.
func TestRequestIDSharedWithMiddleware(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-789")
	if got := GetRequestID(ctx); got != "req-789" {
		t.Errorf("GetRequestID() = %q, want req-789", got)
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
