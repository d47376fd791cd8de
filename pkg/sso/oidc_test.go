package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oidcTestConfig returns a working provider config for an OIDC IdP.
// mutate tweaks the OIDCConfig for the failure cases.
func oidcTestConfig(mutate func(*OIDCConfig)) *ProviderConfig {
	oc := &OIDCConfig{
		ClientID:     "ssobroker",
		ClientSecret: "hunter2",
		IssuerURL:    "https://login.corp.example",
		RedirectURL:  "https://sso.corp.example/auth/sso/corp-oidc/callback",
		Scopes:       []string{"openid", "profile", "email"},
	}
	if mutate != nil {
		mutate(oc)
	}
	return &ProviderConfig{
		ID:           3,
		Name:         "corp-oidc",
		ProviderType: ProviderTypeOIDC,
		ProviderName: ProviderGenericOIDC,
		Enabled:      true,
		OIDCConfig:   oc,
		AttributeMapping: AttributeMap{
			UserID:   "sub",
			Username: "preferred_username",
			Email:    "email",
		},
	}
}

func TestOIDCProvider_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*OIDCConfig)
		wantErr string
	}{
		{
			name: "complete config",
		},
		{
			name:    "missing client_id",
			mutate:  func(oc *OIDCConfig) { oc.ClientID = "" },
			wantErr: "client_id is required",
		},
		{
			name:    "missing client_secret",
			mutate:  func(oc *OIDCConfig) { oc.ClientSecret = "" },
			wantErr: "client_secret is required",
		},
		{
			name:    "missing issuer_url",
			mutate:  func(oc *OIDCConfig) { oc.IssuerURL = "" },
			wantErr: "issuer_url is required",
		},
		{
			name:    "missing redirect_url",
			mutate:  func(oc *OIDCConfig) { oc.RedirectURL = "" },
			wantErr: "redirect_url is required",
		},
		{
			name:    "missing scopes",
			mutate:  func(oc *OIDCConfig) { oc.Scopes = nil },
			wantErr: "scopes are required",
		},
		{
			name:    "scopes without openid",
			mutate:  func(oc *OIDCConfig) { oc.Scopes = []string{"profile", "email"} },
			wantErr: "'openid' scope is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// ValidateConfig only inspects the stored config, so the provider
			// can be built without issuer discovery.
			provider := &OIDCProvider{config: oidcTestConfig(tt.mutate)}
			err := provider.ValidateConfig()

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOIDCProvider_ValidateConfig_NilConfig(t *testing.T) {
	cfg := oidcTestConfig(nil)
	cfg.OIDCConfig = nil

	provider := &OIDCProvider{config: cfg}
	err := provider.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC config is required")
}

func TestNewOIDCProvider_Discovery(t *testing.T) {
	// Minimal discovery document; endpoint URLs only have to parse.
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/keys",
			"userinfo_endpoint":      issuer + "/userinfo",
		})
	}))
	defer srv.Close()
	issuer = srv.URL

	provider, err := NewOIDCProvider(context.Background(), oidcTestConfig(func(oc *OIDCConfig) {
		oc.IssuerURL = srv.URL
	}))
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.verifier)
	assert.Equal(t, srv.URL+"/authorize", provider.oauth2Config.Endpoint.AuthURL)

	// The login redirect is built from the discovered endpoints.
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/sso/corp-oidc/login", nil)
	require.NoError(t, provider.InitiateLogin(w, r, "state-3d08"))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), srv.URL+"/authorize")
	assert.Contains(t, w.Header().Get("Location"), "state=state-3d08")
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider, err := NewOIDCProvider(context.Background(), oidcTestConfig(func(oc *OIDCConfig) {
		oc.IssuerURL = srv.URL
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover OIDC provider")
	assert.Nil(t, provider)
}

func TestNewOIDCProvider_NilConfig(t *testing.T) {
	cfg := oidcTestConfig(nil)
	cfg.OIDCConfig = nil

	provider, err := NewOIDCProvider(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC config is required")
	assert.Nil(t, provider)
}

func TestOIDCProvider_TypeAndName(t *testing.T) {
	provider := &OIDCProvider{config: oidcTestConfig(nil)}

	assert.Equal(t, ProviderTypeOIDC, provider.GetType())
	assert.Equal(t, ProviderGenericOIDC, provider.GetName())
}
