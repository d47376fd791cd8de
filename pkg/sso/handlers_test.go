package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/storage"
)

func newTestHandlers(t *testing.T) (*Handlers, *MemoryProviderStore, *storage.MemoryStore) {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	providers := NewMemoryProviderStore()
	store := storage.NewMemoryStore()
	policy := identity.NewDomainOrderPolicy("corp.com")
	provisioner := NewUserProvisioner(store, policy, logger)
	sessions := NewSessionManager(time.Hour)

	handlers := NewHandlers(providers, provisioner, sessions, logger, "https://sso.example.com")
	return handlers, providers, store
}

func newTestRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func oauth2ProviderFixture(name string) *ProviderConfig {
	return &ProviderConfig{
		Name:          name,
		ProviderType:  ProviderTypeOAuth2,
		ProviderName:  ProviderGenericOAuth2,
		Enabled:       true,
		AutoProvision: true,
		DefaultApps:   "wiki",
		OAuth2Config: &OAuth2Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			AuthURL:      "https://idp.example.com/authorize",
			TokenURL:     "https://idp.example.com/token",
			UserInfoURL:  "https://idp.example.com/userinfo",
			RedirectURL:  "https://sso.example.com/auth/sso/" + name + "/callback",
			Scopes:       []string{"openid", "email", "profile"},
		},
		AttributeMapping: AttributeMap{
			UserID: "sub",
			Email:  "email",
		},
	}
}

func TestNewHandlers(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	assert.NotNil(t, handlers.providers)
	assert.NotNil(t, handlers.factory)
	assert.NotNil(t, handlers.provisioner)
	assert.NotNil(t, handlers.sessions)
	assert.NotNil(t, handlers.audit)
	assert.Equal(t, "https://sso.example.com", handlers.baseURL)
}

func TestListProvidersEmpty(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/providers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var providers []*ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	assert.Empty(t, providers)
}

func TestListProvidersSanitizesSecrets(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/providers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var listed []*ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "corp-idp", listed[0].Name)
	assert.Empty(t, listed[0].OAuth2Config.ClientSecret)
}

func TestListProvidersEnabledFilter(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)

	enabled := oauth2ProviderFixture("enabled-idp")
	require.NoError(t, providers.CreateProvider(enabled))

	disabled := oauth2ProviderFixture("disabled-idp")
	disabled.Enabled = false
	require.NoError(t, providers.CreateProvider(disabled))

	router := newTestRouter(handlers)
	req := httptest.NewRequest("GET", "/sso/providers?enabled=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var listed []*ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "enabled-idp", listed[0].Name)
}

func TestCreateProvider(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	body, err := json.Marshal(oauth2ProviderFixture("corp-idp"))
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/sso/providers", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "corp-idp", created.Name)
	assert.Empty(t, created.OAuth2Config.ClientSecret)

	// Secret survives in the store even though the response strips it
	stored, err := providers.GetProvider("corp-idp")
	require.NoError(t, err)
	assert.Equal(t, "client-secret", stored.OAuth2Config.ClientSecret)
}

func TestCreateProviderValidation(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	missingSecret := oauth2ProviderFixture("bad-idp")
	missingSecret.OAuth2Config.ClientSecret = ""
	missingSecretBody, err := json.Marshal(missingSecret)
	require.NoError(t, err)

	noName := oauth2ProviderFixture("")
	noNameBody, err := json.Marshal(noName)
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"missing name", string(noNameBody), http.StatusBadRequest},
		{"missing provider type", `{"name":"x"}`, http.StatusBadRequest},
		{"incomplete oauth2 config", string(missingSecretBody), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/sso/providers", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCreateProviderDuplicate(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	body, err := json.Marshal(oauth2ProviderFixture("corp-idp"))
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/sso/providers", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetProvider(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/providers/corp-idp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got ProviderConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "corp-idp", got.Name)
	assert.Empty(t, got.OAuth2Config.ClientSecret)
}

func TestGetProviderNotFound(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/providers/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProvider(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	original := oauth2ProviderFixture("corp-idp")
	require.NoError(t, providers.CreateProvider(original))
	router := newTestRouter(handlers)

	updated := oauth2ProviderFixture("corp-idp")
	updated.DefaultApps = "wiki,payroll"
	body, err := json.Marshal(updated)
	require.NoError(t, err)

	req := httptest.NewRequest("PUT", "/sso/providers/corp-idp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := providers.GetProvider("corp-idp")
	require.NoError(t, err)
	assert.Equal(t, "wiki,payroll", stored.DefaultApps)
	assert.Equal(t, original.ID, stored.ID)
}

func TestUpdateProviderNotFound(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	body, err := json.Marshal(oauth2ProviderFixture("nope"))
	require.NoError(t, err)

	req := httptest.NewRequest("PUT", "/sso/providers/nope", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProvider(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("DELETE", "/sso/providers/corp-idp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := providers.GetProvider("corp-idp")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestInitiateLogin(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/corp-idp/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", location.Host)
	assert.Equal(t, "/authorize", location.Path)

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sso_state" {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "state cookie must be set")
	assert.Equal(t, stateCookie.Value, location.Query().Get("state"))
	assert.True(t, stateCookie.HttpOnly)
}

func TestInitiateLoginSetsReturnURLCookie(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/corp-idp/login?return_url=/wiki", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sso_return_url" {
			found = true
			assert.Equal(t, "/wiki", c.Value)
		}
	}
	assert.True(t, found, "return url cookie must be set")
}

func TestInitiateLoginUnknownProvider(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/nope/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiateLoginDisabledProvider(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	config := oauth2ProviderFixture("corp-idp")
	config.Enabled = false
	require.NoError(t, providers.CreateProvider(config))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/corp-idp/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallbackMissingStateCookie(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/corp-idp/callback?state=abc&code=xyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackStateMismatch(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/corp-idp/callback?state=tampered&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: "sso_state", Value: "expected"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/auth/sso/logout", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogoutDeletesSession(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	session, err := handlers.sessions.CreateSession("user-1", "ext-1", "corp-idp", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/auth/sso/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)

	_, err = handlers.sessions.GetSession(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie must be cleared")
}

func TestSAMLMetadataWrongProviderType(t *testing.T) {
	handlers, providers, _ := newTestHandlers(t)
	require.NoError(t, providers.CreateProvider(oauth2ProviderFixture("corp-idp")))
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/metadata/corp-idp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSAMLMetadataUnknownProvider(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)
	router := newTestRouter(handlers)

	req := httptest.NewRequest("GET", "/sso/metadata/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveSession(t *testing.T) {
	handlers, _, store := newTestHandlers(t)

	ident := &identity.Identity{
		ID:           "user-1",
		PrimaryEmail: "jane@corp.com",
		FirstName:    "Jane",
		Emails:       []identity.EmailAddress{{Email: "jane@corp.com"}},
	}
	require.NoError(t, store.Apply(context.Background(), &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: ident,
	}))

	session, err := handlers.sessions.CreateSession("user-1", "ext-1", "corp-idp", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})

	resolved, got, err := handlers.ResolveSession(req, store)
	require.NoError(t, err)
	assert.Equal(t, "user-1", resolved.ID)
	assert.Equal(t, "jane@corp.com", resolved.PrimaryEmail)
	assert.Equal(t, session.ID, got.ID)
}

func TestResolveSessionMissingCookie(t *testing.T) {
	handlers, _, store := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	_, _, err := handlers.ResolveSession(req, store)
	assert.Error(t, err)
}

func TestResolveSessionUnknownSession(t *testing.T) {
	handlers, _, store := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "deadbeef"})
	_, _, err := handlers.ResolveSession(req, store)
	assert.Error(t, err)
}
