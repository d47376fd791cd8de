package sso

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// relayStateCookie carries the login state across the IdP round trip.
const relayStateCookie = "saml_relay_state"

// SAMLProvider brokers logins against a SAML 2.0 IdP. The broker acts as
// the service provider; assertions arrive on the per-provider callback URL.
type SAMLProvider struct {
	config  *ProviderConfig
	sp      *saml2.SAMLServiceProvider
	baseURL string
}

// NewSAMLProvider builds the service provider from the stored IdP
// certificate and optional signing key.
func NewSAMLProvider(config *ProviderConfig, baseURL string) (*SAMLProvider, error) {
	if config.SAMLConfig == nil {
		return nil, fmt.Errorf("SAML config is required")
	}

	idpCert, err := parseIdPCertificate(config.SAMLConfig.Certificate)
	if err != nil {
		return nil, err
	}
	keyStore, err := buildKeyStore(config.SAMLConfig)
	if err != nil {
		return nil, err
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      config.SAMLConfig.SSOURL,
		IdentityProviderIssuer:      config.SAMLConfig.EntityID,
		ServiceProviderIssuer:       baseURL + "/sso/metadata",
		AssertionConsumerServiceURL: fmt.Sprintf("%s/auth/sso/%s/callback", baseURL, config.Name),
		SignAuthnRequests:           config.SAMLConfig.SignRequests,
		AudienceURI:                 baseURL,
		IDPCertificateStore:         &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{idpCert}},
		SPKeyStore:                  keyStore,
	}
	if f := config.SAMLConfig.NameIDFormat; f != "" {
		sp.NameIdFormat = f
	}

	return &SAMLProvider{config: config, sp: sp, baseURL: baseURL}, nil
}

func parseIdPCertificate(pemText string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// buildKeyStore parses the SP signing key, accepting PKCS1 and PKCS8.
func buildKeyStore(cfg *SAMLConfig) (dsig.X509KeyStore, error) {
	if cfg.PrivateKey == "" {
		return nil, nil
	}

	block, _ := pem.Decode([]byte(cfg.PrivateKey))
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  key,
		Certificate: [][]byte{[]byte(cfg.Certificate)},
	}, nil
}

func (p *SAMLProvider) GetType() ProviderType { return ProviderTypeSAML }

func (p *SAMLProvider) GetName() ProviderName { return p.config.ProviderName }

// InitiateLogin redirects the browser to the IdP with a fresh AuthnRequest.
// The state travels as RelayState and in a short-lived cookie.
func (p *SAMLProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return fmt.Errorf("failed to build auth URL: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     relayStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // outlives any reasonable IdP login page
	})

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback validates the posted assertion and maps its attributes
// onto an SSOUser via the configured attribute mapping.
func (p *SAMLProvider) HandleCallback(w http.ResponseWriter, r *http.Request) (*SSOUser, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return nil, fmt.Errorf("missing SAMLResponse parameter")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode SAMLResponse: %w", err)
	}

	info, err := p.sp.RetrieveAssertionInfo(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate assertion: %w", err)
	}
	if warn := info.WarningInfo; warn != nil {
		if warn.InvalidTime {
			return nil, fmt.Errorf("assertion has invalid time")
		}
		if warn.NotInAudience {
			return nil, fmt.Errorf("assertion not in expected audience")
		}
	}

	user := p.mapAssertion(info)

	if user.ExternalID == "" {
		return nil, fmt.Errorf("missing user ID in SAML assertion")
	}
	if user.Email == "" {
		return nil, fmt.Errorf("missing email in SAML assertion")
	}
	return user, nil
}

// mapAssertion applies the configured attribute mapping. The NameID backs
// the external ID when no explicit user-ID attribute is asserted.
func (p *SAMLProvider) mapAssertion(info *saml2.AssertionInfo) *SSOUser {
	user := &SSOUser{
		ProviderID:   p.config.ID,
		ProviderName: p.config.Name,
		Attributes:   make(map[string]string),
	}

	// Later entries win when two fields name the same attribute, so the
	// identity-bearing fields go last.
	mapping := p.config.AttributeMapping
	fields := map[string]*string{
		mapping.LastName:  &user.LastName,
		mapping.FirstName: &user.FirstName,
		mapping.FullName:  &user.FullName,
		mapping.Username:  &user.Username,
		mapping.Email:     &user.Email,
		mapping.UserID:    &user.ExternalID,
	}

	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		first := attr.Values[0].Value
		user.Attributes[attr.Name] = first

		if attr.Name == mapping.Groups && mapping.Groups != "" {
			for _, v := range attr.Values {
				user.Groups = append(user.Groups, v.Value)
			}
			continue
		}
		if dst, ok := fields[attr.Name]; ok && attr.Name != "" {
			*dst = first
		}
	}

	if user.ExternalID == "" {
		user.ExternalID = info.NameID
	}
	if user.Username == "" && user.Email != "" {
		user.Username = user.Email
	}
	return user
}

// Logout redirects to the IdP single-logout endpoint when one is
// configured; otherwise the broker session alone is cleared.
func (p *SAMLProvider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	slo := p.config.SAMLConfig.SLOUrl
	if slo == "" {
		return nil
	}

	request := fmt.Sprintf(`<?xml version="1.0"?>
<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"
                     xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"
                     ID="_%s"
                     Version="2.0"
                     IssueInstant="%s"
                     Destination="%s">
  <saml:Issuer>%s</saml:Issuer>
  <saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:transient"></saml:NameID>
  <samlp:SessionIndex>%s</samlp:SessionIndex>
</samlp:LogoutRequest>`,
		generateID(),
		time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		slo,
		p.sp.ServiceProviderIssuer,
		sessionIndex)

	target, err := url.Parse(slo)
	if err != nil {
		return fmt.Errorf("invalid SLO URL: %w", err)
	}
	q := target.Query()
	q.Set("SAMLRequest", base64.StdEncoding.EncodeToString([]byte(request)))
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
	return nil
}

// generateID mints request IDs for outgoing SAML messages.
func generateID() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidateConfig checks the stored configuration without building an SP.
func (p *SAMLProvider) ValidateConfig() error {
	cfg := p.config.SAMLConfig
	if cfg == nil {
		return fmt.Errorf("SAML config is required")
	}

	switch {
	case cfg.EntityID == "":
		return fmt.Errorf("entity_id is required")
	case cfg.SSOURL == "":
		return fmt.Errorf("sso_url is required")
	case cfg.Certificate == "":
		return fmt.Errorf("certificate is required")
	}

	block, _ := pem.Decode([]byte(cfg.Certificate))
	if block == nil {
		return fmt.Errorf("invalid certificate PEM format")
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	if cfg.PrivateKey != "" {
		if block, _ := pem.Decode([]byte(cfg.PrivateKey)); block == nil {
			return fmt.Errorf("invalid private key PEM format")
		}
	}
	return nil
}

// GetMetadata renders the SP metadata served on /sso/metadata/{provider}.
func (p *SAMLProvider) GetMetadata() ([]byte, error) {
	doc := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		p.sp.ServiceProviderIssuer,
		p.sp.AssertionConsumerServiceURL)

	return []byte(doc), nil
}
