package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// csvHeader is the column order of CSV exports.
var csvHeader = []string{
	"id", "timestamp", "event_type", "status", "app_key", "user_id",
	"resource_type", "resource_id", "ip_address", "request_id", "method",
	"path", "message", "error_message",
}

// WriteCSV renders events as CSV.
func WriteCSV(w io.Writer, events []*AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range events {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.EventType),
			string(e.Status),
			e.AppKey,
			e.UserID,
			string(e.ResourceType),
			e.ResourceID,
			e.IPAddress,
			e.RequestID,
			e.Method,
			e.Path,
			e.Message,
			e.ErrorMessage,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNDJSON renders events as newline-delimited JSON.
func WriteNDJSON(w io.Writer, events []*AuditEvent) error {
	encoder := json.NewEncoder(w)
	for _, e := range events {
		if err := encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}
	return nil
}
