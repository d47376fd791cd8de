package sso

import (
	"context"
	"fmt"
	"net/http"
)

// Provider is one configured upstream identity provider. Implementations
// cover the three supported protocols: SAML, OAuth2, and OIDC.
type Provider interface {
	// GetType returns the protocol of this provider
	GetType() ProviderType

	// GetName returns the vendor preset name
	GetName() ProviderName

	// InitiateLogin redirects the browser to the upstream IdP
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error

	// HandleCallback processes the IdP response and returns the asserted user
	HandleCallback(w http.ResponseWriter, r *http.Request) (*SSOUser, error)

	// Logout handles upstream logout where the protocol supports it
	Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// ProviderFactory builds Provider instances from stored configuration. The
// base URL is the externally reachable broker address used in redirect and
// ACS URLs.
type ProviderFactory struct {
	baseURL string
}

func NewProviderFactory(baseURL string) *ProviderFactory {
	return &ProviderFactory{baseURL: baseURL}
}

// CreateProvider instantiates the provider for a stored configuration.
// Disabled providers are refused here so login handlers need no separate
// enabled check.
func (f *ProviderFactory) CreateProvider(config *ProviderConfig) (Provider, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", config.Name)
	}

	switch config.ProviderType {
	case ProviderTypeSAML:
		if config.SAMLConfig == nil {
			return nil, fmt.Errorf("SAML config is required for SAML provider")
		}
		return NewSAMLProvider(config, f.baseURL)

	case ProviderTypeOAuth2:
		if config.OAuth2Config == nil {
			return nil, fmt.Errorf("OAuth2 config is required for OAuth2 provider")
		}
		return NewOAuth2Provider(config)

	case ProviderTypeOIDC:
		if config.OIDCConfig == nil {
			return nil, fmt.Errorf("OIDC config is required for OIDC provider")
		}
		return NewOIDCProvider(context.Background(), config)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.ProviderType)
	}
}

// oidcPreset is the claim mapping shared by every OIDC vendor preset.
// Vendors override individual fields below.
func oidcPreset(vendor ProviderName, scopes ...string) *ProviderConfig {
	return &ProviderConfig{
		ProviderType: ProviderTypeOIDC,
		ProviderName: vendor,
		AttributeMapping: AttributeMap{
			UserID:    "sub",
			Username:  "preferred_username",
			Email:     "email",
			FullName:  "name",
			FirstName: "given_name",
			LastName:  "family_name",
		},
		OIDCConfig: &OIDCConfig{Scopes: scopes},
	}
}

// GetPresetConfig returns the attribute mapping and scope defaults for
// well-known vendors, so operators only supply credentials and URLs.
func GetPresetConfig(providerName ProviderName) (*ProviderConfig, error) {
	switch providerName {
	case ProviderAzureAD:
		cfg := oidcPreset(providerName, "openid", "profile", "email")
		// Entra's sub is pairwise per client; oid is the stable tenant ID.
		cfg.AttributeMapping.UserID = "oid"
		cfg.AttributeMapping.Groups = "groups"
		return cfg, nil

	case ProviderOkta:
		cfg := oidcPreset(providerName, "openid", "profile", "email", "groups")
		cfg.AttributeMapping.Groups = "groups"
		return cfg, nil

	case ProviderGoogle:
		cfg := oidcPreset(providerName, "openid", "profile", "email")
		cfg.AttributeMapping.Username = "email" // Google has no preferred_username
		cfg.OIDCConfig.IssuerURL = "https://accounts.google.com"
		return cfg, nil

	case ProviderGenericOIDC:
		return oidcPreset(providerName, "openid", "profile", "email"), nil

	default:
		return nil, fmt.Errorf("no preset configuration for provider: %s", providerName)
	}
}
