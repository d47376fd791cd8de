package middleware

import (
	"net/http"
	"strings"

	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/contextkeys"
	"github.com/crossfield/ssobroker/pkg/httputil"
)

// AuthMiddleware authenticates requests with application bearer tokens
// ("Bearer sso_<token>"). On success the AuthContext and app key land in
// the request context for handlers and the rate limiter.
type AuthMiddleware struct {
	tokens   *auth.TokenRegistry
	optional bool // when set, anonymous requests pass through without an AuthContext
}

func NewAuthMiddleware(tokens *auth.TokenRegistry, optional bool) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, optional: optional}
}

// Handler wraps next with bearer-token authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		appToken, err := m.tokens.Validate(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{
			AppKey: appToken.AppKey,
			Token:  appToken,
		})
		ctx = contextkeys.WithApp(ctx, appToken.AppKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext returns the AuthContext placed by Handler, or nil for
// anonymous requests.
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// RequireScope gates a route on one token scope. It must sit inside
// AuthMiddleware; an anonymous request is refused outright.
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteForbidden(w, "authentication required")
				return
			}
			if !authCtx.HasScope(scope) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
