package httputil

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/crossfield/ssobroker/pkg/contextkeys"
)

// RequestIDMiddleware tags each request with an ID, honoring one supplied
// by an upstream proxy. The ID is echoed in the response headers and stored
// in the request context for the logger and audit trail.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), requestID)))
	})
}

// RecoveryMiddleware converts a handler panic into a 500 so one bad request
// cannot take down the listener. The stack goes to the process log together
// with the request ID, never to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic on %s %s (request %s): %v\n%s",
					r.Method, r.URL.Path, contextkeys.GetRequestID(r.Context()), rec, debug.Stack())
				WriteInternalError(w, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// MaxBytesMiddleware caps request body sizes. Bulk imports are the largest
// legitimate payload, so the limit is sized for them.
func MaxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
