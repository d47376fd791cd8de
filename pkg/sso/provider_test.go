package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderFactory(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)
	require.NotNil(t, factory)
	assert.Equal(t, samlTestBaseURL, factory.baseURL)
}

func TestGetPresetConfig(t *testing.T) {
	tests := []struct {
		name      string
		provider  ProviderName
		check     func(t *testing.T, cfg *ProviderConfig)
	}{
		{
			name:     "azuread maps oid as the user ID",
			provider: ProviderAzureAD,
			check: func(t *testing.T, cfg *ProviderConfig) {
				assert.Equal(t, ProviderTypeOIDC, cfg.ProviderType)
				assert.Equal(t, "oid", cfg.AttributeMapping.UserID)
				assert.Equal(t, "groups", cfg.AttributeMapping.Groups)
				assert.Contains(t, cfg.OIDCConfig.Scopes, "openid")
			},
		},
		{
			name:     "okta requests the groups scope",
			provider: ProviderOkta,
			check: func(t *testing.T, cfg *ProviderConfig) {
				assert.Equal(t, ProviderTypeOIDC, cfg.ProviderType)
				assert.Equal(t, "sub", cfg.AttributeMapping.UserID)
				assert.Contains(t, cfg.OIDCConfig.Scopes, "groups")
			},
		},
		{
			name:     "google carries a fixed issuer",
			provider: ProviderGoogle,
			check: func(t *testing.T, cfg *ProviderConfig) {
				assert.Equal(t, ProviderTypeOIDC, cfg.ProviderType)
				assert.Equal(t, "https://accounts.google.com", cfg.OIDCConfig.IssuerURL)
				assert.Equal(t, "email", cfg.AttributeMapping.Username)
			},
		},
		{
			name:     "generic oidc",
			provider: ProviderGenericOIDC,
			check: func(t *testing.T, cfg *ProviderConfig) {
				assert.Equal(t, ProviderTypeOIDC, cfg.ProviderType)
				assert.Equal(t, "sub", cfg.AttributeMapping.UserID)
				assert.Contains(t, cfg.OIDCConfig.Scopes, "email")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := GetPresetConfig(tt.provider)
			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Equal(t, tt.provider, cfg.ProviderName)
			tt.check(t, cfg)
		})
	}
}

func TestGetPresetConfig_UnknownVendor(t *testing.T) {
	cfg, err := GetPresetConfig(ProviderName("pingfederate"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "no preset configuration")
}

func TestCreateProvider_SAML(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)

	provider, err := factory.CreateProvider(oktaSAMLConfig(nil))
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, ProviderTypeSAML, provider.GetType())
}

func TestCreateProvider_OAuth2(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)

	provider, err := factory.CreateProvider(oauth2TestConfig(nil))
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, ProviderTypeOAuth2, provider.GetType())
}

func TestCreateProvider_RefusesDisabled(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)

	cfg := oktaSAMLConfig(nil)
	cfg.Enabled = false

	provider, err := factory.CreateProvider(cfg)
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "disabled")
}

func TestCreateProvider_MissingProtocolConfig(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)

	tests := []struct {
		name         string
		providerType ProviderType
		wantErr      string
	}{
		{"saml", ProviderTypeSAML, "SAML config is required"},
		{"oauth2", ProviderTypeOAuth2, "OAuth2 config is required"},
		{"oidc", ProviderTypeOIDC, "OIDC config is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := factory.CreateProvider(&ProviderConfig{
				Name:         "corp-" + tt.name,
				Enabled:      true,
				ProviderType: tt.providerType,
			})
			require.Error(t, err)
			assert.Nil(t, provider)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateProvider_UnknownType(t *testing.T) {
	factory := NewProviderFactory(samlTestBaseURL)

	provider, err := factory.CreateProvider(&ProviderConfig{
		Name:         "corp-ldap",
		Enabled:      true,
		ProviderType: ProviderType("ldap"),
	})
	require.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported provider type")
}
