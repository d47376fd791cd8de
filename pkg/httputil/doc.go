// Package httputil provides shared request/response plumbing for the broker's
// HTTP surfaces.
//
// # Overview
//
// Every handler in pkg/api and pkg/sso funnels JSON encoding, error bodies,
// and parameter parsing through this package so callers see one error shape
// regardless of which endpoint produced it.
//
// # Response Helpers
//
//	httputil.WriteJSONOrError(w, http.StatusOK, report, "failed to encode report")
//	httputil.WriteNoContent(w)
//
// Error responses, one helper per status the API answers with:
//
//	httputil.WriteValidationError(w, "alias is required")
//	httputil.WriteForbidden(w, "missing users:write scope")
//	httputil.WriteConflict(w, "alias already attached to another user")
//
// # Request Parsing
//
//	var req ImportAliasesRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
//	matchAll, err := httputil.ParseQueryBool(r, "match_all", false)
//	limit, err := httputil.ParseQueryInt(r, "limit", 100)
//	format := httputil.ParseQueryString(r, "format", "ndjson")
//
// # Middleware
//
// RequestIDMiddleware and RecoveryMiddleware sit at the top of the broker's
// chain; MaxBytesMiddleware caps import payloads.
//
// # Related Packages
//
//   - pkg/middleware: token authentication, scope checks, rate limiting
package httputil
