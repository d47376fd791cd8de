package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider brokers logins against an OpenID Connect IdP. Endpoints are
// taken from the issuer's discovery document at construction time.
type OIDCProvider struct {
	config       *ProviderConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and prepares the token verifier.
func NewOIDCProvider(ctx context.Context, config *ProviderConfig) (*OIDCProvider, error) {
	cfg := config.OIDCConfig
	if cfg == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCProvider{
		config:   config,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID:        cfg.ClientID,
			SkipIssuerCheck: cfg.SkipIssuerCheck,
		}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

func (p *OIDCProvider) GetType() ProviderType { return ProviderTypeOIDC }

func (p *OIDCProvider) GetName() ProviderName { return p.config.ProviderName }

// InitiateLogin redirects to the discovered authorization endpoint.
func (p *OIDCProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	http.Redirect(w, r, p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code, verifies the ID token,
// and maps its claims onto an SSOUser via the configured attribute mapping.
func (p *OIDCProvider) HandleCallback(w http.ResponseWriter, r *http.Request) (*SSOUser, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	user := p.mapClaims(claims)
	p.supplementFromUserinfo(ctx, token, user)

	if user.Username == "" && user.Email != "" {
		user.Username = user.Email
	}
	if user.ExternalID == "" {
		user.ExternalID = idToken.Subject
	}

	// The broker cannot provision or resolve a user without these.
	if user.ExternalID == "" {
		return nil, fmt.Errorf("missing user ID in OIDC token")
	}
	if user.Email == "" {
		return nil, fmt.Errorf("missing email in OIDC token")
	}
	return user, nil
}

func (p *OIDCProvider) mapClaims(claims map[string]interface{}) *SSOUser {
	user := &SSOUser{
		ProviderID:   p.config.ID,
		ProviderName: p.config.Name,
		Attributes:   make(map[string]string, len(claims)),
	}
	for k, v := range claims {
		if str, ok := v.(string); ok {
			user.Attributes[k] = str
		}
	}

	mapping := p.config.AttributeMapping
	user.ExternalID = getStringValue(claims, mapping.UserID)
	user.Username = getStringValue(claims, mapping.Username)
	user.Email = getStringValue(claims, mapping.Email)
	user.FullName = getStringValue(claims, mapping.FullName)
	user.FirstName = getStringValue(claims, mapping.FirstName)
	user.LastName = getStringValue(claims, mapping.LastName)
	if mapping.Groups != "" {
		user.Groups = getArrayValue(claims, mapping.Groups)
	}
	return user
}

// supplementFromUserinfo fills fields some IdPs (notably Azure AD) omit
// from the ID token. Userinfo failures are not fatal; the token claims
// stand on their own.
func (p *OIDCProvider) supplementFromUserinfo(ctx context.Context, token *oauth2.Token, user *SSOUser) {
	if p.config.OIDCConfig.UserinfoEndpoint == "" {
		return
	}

	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return
	}

	for k, v := range info {
		if str, ok := v.(string); ok {
			if _, exists := user.Attributes[k]; !exists {
				user.Attributes[k] = str
			}
		}
	}
	if email := getStringValue(info, "email"); email != "" {
		user.Email = email
	}
	if groups := getArrayValue(info, p.config.AttributeMapping.Groups); len(groups) > 0 {
		user.Groups = groups
	}
}

func (p *OIDCProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}

	var claims map[string]interface{}
	if err := info.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Logout clears the broker session only.
// TODO: RP-initiated logout via end_session_endpoint for IdPs that expose it.
func (p *OIDCProvider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	return nil
}

func (p *OIDCProvider) ValidateConfig() error {
	cfg := p.config.OIDCConfig
	if cfg == nil {
		return fmt.Errorf("OIDC config is required")
	}

	switch {
	case cfg.ClientID == "":
		return fmt.Errorf("client_id is required")
	case cfg.ClientSecret == "":
		return fmt.Errorf("client_secret is required")
	case cfg.IssuerURL == "":
		return fmt.Errorf("issuer_url is required")
	case cfg.RedirectURL == "":
		return fmt.Errorf("redirect_url is required")
	case len(cfg.Scopes) == 0:
		return fmt.Errorf("scopes are required")
	}

	for _, scope := range cfg.Scopes {
		if scope == "openid" {
			return nil
		}
	}
	return fmt.Errorf("'openid' scope is required for OIDC")
}
