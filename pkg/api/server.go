package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crossfield/ssobroker/pkg/apps"
	"github.com/crossfield/ssobroker/pkg/audit"
	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/export"
	"github.com/crossfield/ssobroker/pkg/httputil"
	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/middleware"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/settings"
	"github.com/crossfield/ssobroker/pkg/sso"
	"github.com/crossfield/ssobroker/pkg/storage"
)

// errNoSubject is returned when a request identifies no user: no broker
// session cookie and no `user` query parameter.
var errNoSubject = errors.New("no user identified: provide a session cookie or the user query parameter")

// Server holds the dependencies of the public API.
type Server struct {
	store     storage.Store
	settings  *settings.Service
	registry  *apps.Registry
	policy    *identity.DomainOrderPolicy
	tokens    *auth.TokenRegistry
	sessions  *sso.SessionManager
	exporter  *export.Exporter
	uploader  *export.S3Uploader
	audit     *auth.AuditLogger
	trail     audit.Searcher
	metrics   *observability.Metrics
	ratelimit mux.MiddlewareFunc
	logger    *observability.Logger
}

// Options carries the optional server dependencies.
type Options struct {
	Metrics       *observability.Metrics
	Uploader      *export.S3Uploader // enables server-side export uploads when set
	AuditSink     auth.AuditSink     // durable audit trail backend
	AuditSearcher audit.Searcher     // enables the /admin/audit endpoints when set
	RateLimit     mux.MiddlewareFunc // applied to /api/v1 after authentication
}

// NewServer creates the API server.
func NewServer(
	store storage.Store,
	registry *apps.Registry,
	policy *identity.DomainOrderPolicy,
	tokens *auth.TokenRegistry,
	sessions *sso.SessionManager,
	logger *observability.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	auditLogger := auth.NewAuditLogger(logger)
	if opts.AuditSink != nil {
		auditLogger.SetSink(opts.AuditSink)
	}
	return &Server{
		store:     store,
		settings:  settings.NewService(store, logger),
		registry:  registry,
		policy:    policy,
		tokens:    tokens,
		sessions:  sessions,
		exporter:  export.NewExporter(store, logger),
		uploader:  opts.Uploader,
		audit:     auditLogger,
		trail:     opts.AuditSearcher,
		metrics:   opts.Metrics,
		ratelimit: opts.RateLimit,
		logger:    logger,
	}
}

// Router builds the full route table with the middleware chain applied.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware)
	if s.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(s.tokens, false).Handler)
	if s.ratelimit != nil {
		// After auth so limits apply per app token, not per source IP.
		api.Use(s.ratelimit)
	}
	// Bulk imports are the largest legitimate body.
	api.Use(httputil.MaxBytesMiddleware(10 << 20))

	s.register(api, "/admin/users/import", auth.ScopeUsersImport, s.handleUserImport).Methods("POST")
	s.register(api, "/admin/users/import/aliases", auth.ScopeUsersImport, s.handleAliasImport).Methods("POST")
	s.register(api, "/admin/users/export", auth.ScopeUsersExport, s.handleUserExport).Methods("GET")

	s.register(api, "/user-settings", auth.ScopeSettingsRead, s.handleSettingsRead).Methods("GET")
	s.register(api, "/user-settings", auth.ScopeSettingsWrite, s.handleSettingsWrite).Methods("POST")
	s.register(api, "/user-settings", auth.ScopeSettingsWrite, s.handleSettingsDelete).Methods("DELETE")

	s.register(api, "/me", auth.ScopeUsersRead, s.handleMe).Methods("GET")

	if s.trail != nil {
		audit.NewHandlers(s.trail).RegisterRoutes(api, middleware.RequireScope(auth.ScopeAdmin))
	}

	return router
}

func (s *Server) register(r *mux.Router, path string, scope auth.Scope, h http.HandlerFunc) *mux.Route {
	return r.Handle(path, middleware.RequireScope(scope)(h))
}

// subject resolves the user a request acts on: the broker session cookie
// first, then the `user` query parameter (any alias of the identity).
func (s *Server) subject(r *http.Request) (*identity.Identity, error) {
	if cookie, err := r.Cookie(sso.SessionCookieName); err == nil {
		session, err := s.sessions.GetSession(cookie.Value)
		if err == nil {
			return s.store.GetByID(r.Context(), session.UserID)
		}
	}

	if email := r.URL.Query().Get("user"); email != "" {
		return s.store.GetByEmail(r.Context(), identity.Normalize(email))
	}

	return nil, errNoSubject
}

// application looks up the registry entry for the authenticated caller.
func (s *Server) application(r *http.Request) (*apps.Application, *auth.AuthContext, bool) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		return nil, nil, false
	}
	app, ok := s.registry.Get(authCtx.AppKey)
	if !ok {
		return nil, authCtx, false
	}
	return app, authCtx, true
}
