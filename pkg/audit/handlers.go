package audit

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crossfield/ssobroker/pkg/httputil"
)

// Handlers exposes the audit trail query API.
type Handlers struct {
	searcher Searcher
}

// NewHandlers creates handlers over a searchable backend.
func NewHandlers(searcher Searcher) *Handlers {
	return &Handlers{searcher: searcher}
}

// RegisterRoutes mounts the audit routes. wrap is applied to each handler,
// typically the admin-scope check.
func (h *Handlers) RegisterRoutes(router *mux.Router, wrap func(http.Handler) http.Handler) {
	router.Handle("/admin/audit", wrap(http.HandlerFunc(h.search))).Methods("GET")
	router.Handle("/admin/audit/export", wrap(http.HandlerFunc(h.export))).Methods("GET")
}

// search handles GET /admin/audit with filter query parameters.
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if events == nil {
		events = []*AuditEvent{}
	}

	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, "failed to encode audit events")
}

// export handles GET /admin/audit/export?format=csv|ndjson.
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 10000
	}

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatNDJSON)))
	if format != ExportFormatCSV && format != ExportFormatNDJSON {
		httputil.WriteValidationError(w, "format must be csv or ndjson")
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
		err = WriteCSV(w, events)
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		err = WriteNDJSON(w, events)
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
	}
}

// parseFilter builds a SearchFilter from query parameters, writing a 400 on
// malformed input.
func parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	q := r.URL.Query()
	filter := SearchFilter{
		AppKey:       q.Get("app_key"),
		UserID:       q.Get("user_id"),
		ResourceType: ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}

	for _, t := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(t))
	}
	if s := q.Get("status"); s != "" {
		status := EventStatus(s)
		filter.Status = &status
	}

	for key, dest := range map[string]**time.Time{"start": &filter.StartTime, "end": &filter.EndTime} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httputil.WriteValidationError(w, key+" must be RFC3339")
				return filter, false
			}
			*dest = &t
		}
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		n, err := httputil.ParseQueryInt(r, key, 0)
		if err != nil || n < 0 {
			httputil.WriteValidationError(w, key+" must be a non-negative integer")
			return filter, false
		}
		*dest = n
	}

	return filter, true
}
