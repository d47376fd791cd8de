package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2Provider brokers logins against a plain OAuth2 IdP. Unlike OIDC
// there is no signed identity token, so the user profile comes from the
// configured user-info endpoint.
type OAuth2Provider struct {
	config       *ProviderConfig
	oauth2Config *oauth2.Config
}

func NewOAuth2Provider(config *ProviderConfig) (*OAuth2Provider, error) {
	cfg := config.OAuth2Config
	if cfg == nil {
		return nil, fmt.Errorf("OAuth2 config is required")
	}

	return &OAuth2Provider{
		config: config,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
	}, nil
}

func (p *OAuth2Provider) GetType() ProviderType { return ProviderTypeOAuth2 }

func (p *OAuth2Provider) GetName() ProviderName { return p.config.ProviderName }

// InitiateLogin redirects to the authorization endpoint. Offline access is
// requested so the token exchange yields a refresh token where the IdP
// supports one.
func (p *OAuth2Provider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	http.Redirect(w, r, p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code and builds the SSOUser
// from the user-info endpoint response.
func (p *OAuth2Provider) HandleCallback(w http.ResponseWriter, r *http.Request) (*SSOUser, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	claims, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.mapUserInfo(claims)
}

func (p *OAuth2Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	endpoint := p.config.OAuth2Config.UserInfoURL
	if endpoint == "" {
		return nil, fmt.Errorf("user_info_url is required")
	}

	resp, err := p.oauth2Config.Client(ctx, token).Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return claims, nil
}

func (p *OAuth2Provider) mapUserInfo(claims map[string]interface{}) (*SSOUser, error) {
	user := &SSOUser{
		ProviderID:   p.config.ID,
		ProviderName: p.config.Name,
		Attributes:   make(map[string]string, len(claims)),
	}
	for k, v := range claims {
		if str, ok := v.(string); ok {
			user.Attributes[k] = str
			continue
		}
		// Structured claims kept as JSON so the provisioner loses nothing.
		raw, _ := json.Marshal(v)
		user.Attributes[k] = string(raw)
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

	if user.Username == "" && user.Email != "" {
		user.Username = user.Email
	}

	if user.ExternalID == "" {
		return nil, fmt.Errorf("missing user ID in OAuth2 response")
	}
	if user.Email == "" {
		return nil, fmt.Errorf("missing email in OAuth2 response")
	}
	return user, nil
}

// Logout clears the broker session only; OAuth2 has no standard logout flow.
func (p *OAuth2Provider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	return nil
}

func (p *OAuth2Provider) ValidateConfig() error {
	cfg := p.config.OAuth2Config
	if cfg == nil {
		return fmt.Errorf("OAuth2 config is required")
	}

	switch {
	case cfg.ClientID == "":
		return fmt.Errorf("client_id is required")
	case cfg.ClientSecret == "":
		return fmt.Errorf("client_secret is required")
	case cfg.AuthURL == "":
		return fmt.Errorf("auth_url is required")
	case cfg.TokenURL == "":
		return fmt.Errorf("token_url is required")
	case cfg.RedirectURL == "":
		return fmt.Errorf("redirect_url is required")
	case len(cfg.Scopes) == 0:
		return fmt.Errorf("scopes are required")
	}
	return nil
}

// getStringValue reads one string claim, tolerating missing keys and
// unmapped (empty) attribute names.
func getStringValue(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	str, _ := claims[key].(string)
	return str
}

// getArrayValue reads a string-array claim, skipping non-string members.
func getArrayValue(claims map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	arr, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			result = append(result, str)
		}
	}
	return result
}
