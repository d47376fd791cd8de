package sso

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/httputil"
	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/observability"
)

// SessionCookieName is the cookie carrying the broker session ID.
const SessionCookieName = "ssob_session"

// Short-lived cookies that only exist between login initiation and the IdP
// callback.
const (
	stateCookieName     = "sso_state"
	returnURLCookieName = "sso_return_url"
	loginCookieMaxAge   = 600 // seconds; IdP round trips are fast or failed
)

// Handlers serves the provider management API and the login/callback/logout
// flow.
type Handlers struct {
	providers   ProviderStore
	factory     *ProviderFactory
	provisioner *UserProvisioner
	sessions    *SessionManager
	audit       *auth.AuditLogger
	logger      *observability.Logger
	baseURL     string
}

// NewHandlers wires the SSO endpoints over a provider store.
func NewHandlers(providers ProviderStore, provisioner *UserProvisioner, sessions *SessionManager, logger *observability.Logger, baseURL string) *Handlers {
	return &Handlers{
		providers:   providers,
		factory:     NewProviderFactory(baseURL),
		provisioner: provisioner,
		sessions:    sessions,
		audit:       auth.NewAuditLogger(logger),
		logger:      logger,
		baseURL:     baseURL,
	}
}

// SetAuditSink attaches a durable backend to the login audit trail.
func (h *Handlers) SetAuditSink(sink auth.AuditSink) {
	h.audit.SetSink(sink)
}

// RegisterRoutes mounts provider management, the login flow, and the SAML
// metadata endpoint. These sit outside /api/v1: browsers reach them without
// an app token.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sso/providers", h.listProviders).Methods("GET")
	router.HandleFunc("/sso/providers", h.createProvider).Methods("POST")
	router.HandleFunc("/sso/providers/{name}", h.getProvider).Methods("GET")
	router.HandleFunc("/sso/providers/{name}", h.updateProvider).Methods("PUT")
	router.HandleFunc("/sso/providers/{name}", h.deleteProvider).Methods("DELETE")

	router.HandleFunc("/auth/sso/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/auth/sso/logout", h.logout).Methods("GET", "POST")

	router.HandleFunc("/sso/metadata/{provider}", h.getSAMLMetadata).Methods("GET")
}

// loadProvider fetches a stored config by name, answering 404/500 itself.
func (h *Handlers) loadProvider(w http.ResponseWriter, name string) (*ProviderConfig, bool) {
	config, err := h.providers.GetProvider(name)
	if errors.Is(err, ErrProviderNotFound) {
		httputil.WriteNotFoundError(w, "provider not found")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return config, true
}

// instantiate builds the protocol driver for a stored config, answering 500
// when the stored config no longer constructs.
func (h *Handlers) instantiate(w http.ResponseWriter, config *ProviderConfig) (Provider, bool) {
	provider, err := h.factory.CreateProvider(config)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return provider, true
}

// checkConfig constructs and validates a submitted config, answering the 400
// on failure. Creation exercises the same code path a login would, so a
// config that passes here is one the login flow can actually use.
func (h *Handlers) checkConfig(w http.ResponseWriter, config *ProviderConfig) bool {
	provider, err := h.factory.CreateProvider(config)
	if err == nil {
		err = provider.ValidateConfig()
	}
	if err != nil {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid provider config: %v", err))
		return false
	}
	return true
}

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	providers, err := h.providers.ListProviders(enabledOnly)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	for _, p := range providers {
		stripSecrets(p)
	}

	httputil.WriteJSONOrError(w, http.StatusOK, providers, "failed to encode providers")
}

func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var config ProviderConfig
	if !httputil.ParseJSONOrError(w, r, &config) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return config.Name != "", "name is required" },
		func() (bool, string) { return config.ProviderType != "", "provider_type is required" },
	) {
		return
	}

	exists, err := h.providers.ProviderExists(config.Name)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if exists {
		httputil.WriteConflict(w, "provider with this name already exists")
		return
	}

	if !h.checkConfig(w, &config) {
		return
	}
	if err := h.providers.CreateProvider(&config); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	stripSecrets(&config)
	httputil.WriteJSONOrError(w, http.StatusCreated, config, "failed to encode provider")
}

func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	config, ok := h.loadProvider(w, mux.Vars(r)["name"])
	if !ok {
		return
	}

	stripSecrets(config)
	httputil.WriteJSONOrError(w, http.StatusOK, config, "failed to encode provider")
}

func (h *Handlers) updateProvider(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.loadProvider(w, mux.Vars(r)["name"])
	if !ok {
		return
	}

	var config ProviderConfig
	if !httputil.ParseJSONOrError(w, r, &config) {
		return
	}

	// The row identity is immutable; only the configuration moves.
	config.ID = existing.ID
	config.Name = existing.Name

	if !h.checkConfig(w, &config) {
		return
	}
	if err := h.providers.UpdateProvider(&config); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	stripSecrets(&config)
	httputil.WriteJSONOrError(w, http.StatusOK, config, "failed to encode provider")
}

func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.providers.DeleteProvider(mux.Vars(r)["name"]); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// initiateLogin starts the round trip to the IdP. The anti-forgery state is
// pinned in a short-lived cookie and must come back unchanged in the
// callback.
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	config, ok := h.loadProvider(w, mux.Vars(r)["provider"])
	if !ok {
		return
	}
	if !config.Enabled {
		httputil.WriteForbidden(w, "provider is disabled")
		return
	}

	provider, ok := h.instantiate(w, config)
	if !ok {
		return
	}

	state, err := newStateToken()
	if err != nil {
		httputil.WriteInternalError(w, fmt.Errorf("failed to generate state"))
		return
	}
	setLoginCookie(w, stateCookieName, state)

	if returnURL := r.URL.Query().Get("return_url"); returnURL != "" {
		setLoginCookie(w, returnURLCookieName, returnURL)
	}

	if err := provider.InitiateLogin(w, r, state); err != nil {
		httputil.WriteInternalError(w, err)
	}
}

// handleCallback finishes a login: state check, assertion/code validation,
// JIT provisioning, then the broker session cookie.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		httputil.WriteValidationError(w, "missing state cookie")
		return
	}
	state := r.URL.Query().Get("state")
	if r.Method == http.MethodPost {
		// SAML POST bindings return the state as RelayState.
		state = r.FormValue("RelayState")
	}
	if state != stateCookie.Value {
		httputil.WriteValidationError(w, "invalid state parameter")
		return
	}

	config, ok := h.loadProvider(w, providerName)
	if !ok {
		return
	}
	provider, ok := h.instantiate(w, config)
	if !ok {
		return
	}

	ssoUser, err := provider.HandleCallback(w, r)
	if err != nil {
		h.audit.LogFromRequest(r, nil, auth.ActionLoginFailure, "session", providerName, auth.StatusFailure, err)
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, fmt.Sprintf("authentication failed: %v", err))
		return
	}

	ident, err := h.provisioner.ProvisionUser(r.Context(), ssoUser, config)
	if err != nil {
		h.audit.LogFromRequest(r, nil, auth.ActionLoginFailure, "session", providerName, auth.StatusFailure, err)
		httputil.WriteInternalError(w, fmt.Errorf("failed to provision user: %w", err))
		return
	}

	session, err := h.sessions.CreateSession(ident.ID, ssoUser.ExternalID, providerName, ssoUser.Attributes["session_index"])
	if err != nil {
		httputil.WriteInternalError(w, fmt.Errorf("failed to create session"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
	clearCookie(w, stateCookieName)

	h.audit.LogFromRequest(r, nil, auth.ActionLoginSuccess, "session", ident.ID, auth.StatusSuccess, nil)

	returnURL := "/"
	if returnCookie, err := r.Cookie(returnURLCookieName); err == nil {
		returnURL = returnCookie.Value
		clearCookie(w, returnURLCookieName)
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// logout ends the broker session and, when the provider supports it, starts
// the upstream logout as well.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	sessionCookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	session, err := h.sessions.GetSession(sessionCookie.Value)
	clearCookie(w, SessionCookieName)
	if err != nil {
		// Stale cookie for a session that no longer exists.
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.sessions.DeleteSession(session.ID)

	if config, err := h.providers.GetProvider(session.ProviderName); err == nil && config.Enabled {
		if provider, err := h.factory.CreateProvider(config); err == nil {
			provider.Logout(w, r, session.SAMLSessionIndex)
			return
		}
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// getSAMLMetadata serves the SP metadata document an IdP admin pastes into
// their side of the trust.
func (h *Handlers) getSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	config, ok := h.loadProvider(w, mux.Vars(r)["provider"])
	if !ok {
		return
	}
	if config.ProviderType != ProviderTypeSAML {
		httputil.WriteValidationError(w, "provider is not SAML")
		return
	}

	provider, ok := h.instantiate(w, config)
	if !ok {
		return
	}
	samlProvider, ok := provider.(*SAMLProvider)
	if !ok {
		httputil.WriteInternalError(w, fmt.Errorf("provider is not SAML"))
		return
	}

	metadata, err := samlProvider.GetMetadata()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

// ResolveSession returns the identity behind the request's session cookie.
func (h *Handlers) ResolveSession(r *http.Request, store identity.Store) (*identity.Identity, *SSOSession, error) {
	sessionCookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, nil, fmt.Errorf("no session cookie")
	}

	session, err := h.sessions.GetSession(sessionCookie.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid session")
	}

	ident, err := store.GetByID(r.Context(), session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve session user: %w", err)
	}

	return ident, session, nil
}

// newStateToken mints the anti-forgery value tying a callback to the login
// that started it.
func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

func setLoginCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   loginCookieMaxAge,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, MaxAge: -1, Path: "/"})
}

// stripSecrets blanks key material before a config leaves the API.
func stripSecrets(config *ProviderConfig) {
	if config.SAMLConfig != nil {
		config.SAMLConfig.PrivateKey = ""
	}
	if config.OAuth2Config != nil {
		config.OAuth2Config.ClientSecret = ""
	}
	if config.OIDCConfig != nil {
		config.OIDCConfig.ClientSecret = ""
	}
}
