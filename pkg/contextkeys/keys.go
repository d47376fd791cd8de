// Package contextkeys holds the context keys shared across the broker.
//
// Middleware writes these values and handlers, the logger, and the audit
// trail read them back; keeping the keys in one place means the two sides
// cannot drift apart.
package contextkeys

import "context"

// Key is a dedicated string type so broker values cannot collide with keys
// set by other libraries in the same context.
type Key string

const (
	// AuthKey holds the *auth.AuthContext the auth middleware resolved
	// from the bearer token.
	AuthKey Key = "auth_context"

	// AppKey holds the calling application's registry key. Settings are
	// scoped per application, so most handlers read this.
	AppKey Key = "app_key"

	// RequestIDKey holds the request ID minted (or accepted from the
	// ingress) by httputil.RequestIDMiddleware.
	RequestIDKey Key = "request_id"

	// UserIDKey holds the broker user ID once a session or subject has
	// been resolved.
	UserIDKey Key = "user_id"

	// LoggerKey holds a request-scoped *observability.Logger.
	LoggerKey Key = "logger"
)

// WithAuth stores the resolved auth context. Declared against interface{}
// to keep this package free of an auth import cycle.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithApp stores the calling application's key.
func WithApp(ctx context.Context, appKey string) context.Context {
	return context.WithValue(ctx, AppKey, appKey)
}

// WithRequestID stores the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID stores the resolved broker user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger stores a request-scoped logger.
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request ID, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetApp returns the calling application's key, or "" when unauthenticated.
func GetApp(ctx context.Context) string {
	appKey, _ := ctx.Value(AppKey).(string)
	return appKey
}

// GetUserID returns the resolved user ID, or "" before resolution.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}
