package sso

import "time"

// ProviderType is the wire protocol a provider speaks.
type ProviderType string

// ProviderName is the vendor preset a configuration started from.
type ProviderName string

const (
	ProviderTypeSAML   ProviderType = "saml"
	ProviderTypeOAuth2 ProviderType = "oauth2"
	ProviderTypeOIDC   ProviderType = "oidc"
)

const (
	ProviderAzureAD       ProviderName = "azuread"
	ProviderOkta          ProviderName = "okta"
	ProviderGoogle        ProviderName = "google"
	ProviderGenericSAML   ProviderName = "generic_saml"
	ProviderGenericOAuth2 ProviderName = "generic_oauth2"
	ProviderGenericOIDC   ProviderName = "generic_oidc"
)

// ProviderConfig is one stored upstream identity provider. Exactly one of
// the protocol sub-configs is set, matching ProviderType. Secrets inside
// the sub-configs are persisted but blanked before any API response.
type ProviderConfig struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"` // unique per broker, used in login URLs
	ProviderType ProviderType `json:"provider_type"`
	ProviderName ProviderName `json:"provider_name"`
	Enabled      bool         `json:"enabled"`

	// JIT provisioning: when AutoProvision is set, a successful callback
	// for an unknown address creates the identity. DefaultApps is a
	// comma-separated list of app keys every provisioned user receives;
	// GroupMapping grants further apps by upstream group membership.
	AutoProvision bool       `json:"auto_provision"`
	DefaultApps   string     `json:"default_apps"`
	GroupMapping  []GroupMap `json:"group_mapping,omitempty"`

	SAMLConfig   *SAMLConfig   `json:"saml_config,omitempty"`
	OAuth2Config *OAuth2Config `json:"oauth2_config,omitempty"`
	OIDCConfig   *OIDCConfig   `json:"oidc_config,omitempty"`

	AttributeMapping AttributeMap `json:"attribute_mapping"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// SAMLConfig configures a SAML 2.0 upstream.
type SAMLConfig struct {
	EntityID            string   `json:"entity_id"`
	SSOURL              string   `json:"sso_url"`
	SLOUrl              string   `json:"slo_url,omitempty"`
	Certificate         string   `json:"certificate"`             // IdP signing cert, PEM
	PrivateKey          string   `json:"private_key,omitempty"`   // SP key, blanked in responses
	MetadataURL         string   `json:"metadata_url,omitempty"`
	SignRequests        bool     `json:"sign_requests"`
	ForceAuthn          bool     `json:"force_authn"`
	AllowIDPInitiated   bool     `json:"allow_idp_initiated"`
	NameIDFormat        string   `json:"name_id_format,omitempty"`
	DefaultRedirectURL  string   `json:"default_redirect_url"`
	AudienceRestriction []string `json:"audience_restriction,omitempty"`
}

// OAuth2Config configures a plain OAuth2 upstream with a userinfo endpoint.
type OAuth2Config struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret,omitempty"` // blanked in responses
	AuthURL          string   `json:"auth_url"`
	TokenURL         string   `json:"token_url"`
	UserInfoURL      string   `json:"user_info_url,omitempty"`
	Scopes           []string `json:"scopes"`
	RedirectURL      string   `json:"redirect_url"`
	UserinfoEndpoint string   `json:"userinfo_endpoint,omitempty"`
}

// OIDCConfig configures an OpenID Connect upstream found via discovery.
type OIDCConfig struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret,omitempty"` // blanked in responses
	IssuerURL        string   `json:"issuer_url"`
	RedirectURL      string   `json:"redirect_url"`
	Scopes           []string `json:"scopes"`
	SkipIssuerCheck  bool     `json:"skip_issuer_check,omitempty"`
	UserinfoEndpoint string   `json:"userinfo_endpoint,omitempty"`
}

// AttributeMap names the upstream attribute (or claim) that carries each
// identity field. Empty entries fall back to protocol defaults.
type AttributeMap struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Groups    string `json:"groups,omitempty"`
}

// GroupMap grants an application to every member of an upstream group.
type GroupMap struct {
	SSOGroup string `json:"sso_group"`
	AppKey   string `json:"app_key"`
}

// SSOUser is the identity asserted by the upstream provider, after
// attribute mapping. ExternalID is the provider's stable user identifier.
type SSOUser struct {
	ExternalID   string            `json:"external_id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	FullName     string            `json:"full_name,omitempty"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Groups       []string          `json:"groups,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"` // raw, post-mapping extras
	ProviderID   int64             `json:"provider_id"`
	ProviderName string            `json:"provider_name"`
}

// SSOSession is the broker session minted after a successful callback.
// SAMLSessionIndex is kept so single logout can name the upstream session.
type SSOSession struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ExternalUserID   string    `json:"external_user_id"`
	ProviderName     string    `json:"provider_name"`
	SAMLSessionIndex string    `json:"saml_session_index,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}
