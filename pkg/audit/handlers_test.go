package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	lastFilter SearchFilter
	events     []*AuditEvent
}

func (f *fakeSearcher) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	f.lastFilter = filter
	return f.events, nil
}

func passthrough(next http.Handler) http.Handler { return next }

func newTestHandlers(events ...*AuditEvent) (*fakeSearcher, *mux.Router) {
	searcher := &fakeSearcher{events: events}
	router := mux.NewRouter()
	NewHandlers(searcher).RegisterRoutes(router, passthrough)
	return searcher, router
}

func sampleEvent() *AuditEvent {
	return &AuditEvent{
		ID:        1,
		Timestamp: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		EventType: EventTypeUserImport,
		Status:    EventStatusSuccess,
		AppKey:    "admin-console",
	}
}

func TestSearchHandler(t *testing.T) {
	searcher, router := newTestHandlers(sampleEvent())

	req := httptest.NewRequest("GET", "/admin/audit?app_key=admin-console&event_type=user.import&limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-console", searcher.lastFilter.AppKey)
	assert.Equal(t, []EventType{EventTypeUserImport}, searcher.lastFilter.EventTypes)
	assert.Equal(t, 10, searcher.lastFilter.Limit)

	var body struct {
		Events []*AuditEvent `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, EventTypeUserImport, body.Events[0].EventType)
}

func TestSearchHandlerEmptyResult(t *testing.T) {
	_, router := newTestHandlers()

	req := httptest.NewRequest("GET", "/admin/audit", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestSearchHandlerTimeRange(t *testing.T) {
	searcher, router := newTestHandlers()

	req := httptest.NewRequest("GET", "/admin/audit?start=2026-06-01T00:00:00Z&end=2026-06-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, searcher.lastFilter.StartTime)
	require.NotNil(t, searcher.lastFilter.EndTime)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), searcher.lastFilter.StartTime.UTC())
}

func TestSearchHandlerBadInput(t *testing.T) {
	_, router := newTestHandlers()

	for _, target := range []string{
		"/admin/audit?start=yesterday",
		"/admin/audit?limit=-1",
		"/admin/audit?offset=many",
	} {
		req := httptest.NewRequest("GET", target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestExportHandlerCSV(t *testing.T) {
	_, router := newTestHandlers(sampleEvent())

	req := httptest.NewRequest("GET", "/admin/audit/export?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,timestamp,event_type,"))
	assert.Contains(t, lines[1], "user.import")
}

func TestExportHandlerNDJSON(t *testing.T) {
	_, router := newTestHandlers(sampleEvent(), sampleEvent())

	req := httptest.NewRequest("GET", "/admin/audit/export", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)
}

func TestExportHandlerBadFormat(t *testing.T) {
	_, router := newTestHandlers()

	req := httptest.NewRequest("GET", "/admin/audit/export?format=xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
