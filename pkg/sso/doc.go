// Package sso brokers authentication against upstream identity providers.
//
// # Overview
//
// This package enables authentication via SAML 2.0, OAuth2, and OpenID Connect
// with just-in-time (JIT) user provisioning. Logins are joined to canonical
// identities by email, so a user signing in with any of their known aliases
// lands on the same record.
//
// # Supported Protocols
//
// SAML 2.0: Enterprise identity providers (Azure AD, Okta, OneLogin)
// OAuth2: Standard OAuth2 flows
// OpenID Connect: Modern authentication layer on top of OAuth2
//
// # Usage Example
//
// Configure an upstream provider:
//
//	config := &sso.ProviderConfig{
//		Name:         "corp-idp",
//		ProviderType: sso.ProviderTypeSAML,
//		Enabled:      true,
//		AutoProvision: true,
//		SAMLConfig: &sso.SAMLConfig{
//			EntityID:    "https://sso.example.com",
//			SSOURL:      "https://idp.example.com/sso/saml",
//			Certificate: pemCert,
//		},
//		AttributeMapping: sso.AttributeMap{
//			Email:    "email",
//			FullName: "displayName",
//			Groups:   "memberOf",
//		},
//		GroupMapping: []sso.GroupMap{
//			{SSOGroup: "Engineering", AppKey: "ticket-tool"},
//		},
//	}
//
// Presets exist for well-known providers via GetPresetConfig.
//
// # JIT User Provisioning
//
// When a user logs in for the first time, the broker:
//   1. Validates authentication with the IdP
//   2. Extracts user attributes (email, name, groups)
//   3. Resolves the email against the alias index; creates an identity
//      through the reconciliation engine when none exists
//   4. Grants applications mapped from the user's groups
//   5. Stamps the login time and issues a broker session cookie
//
// # Related Packages
//
//   - pkg/identity: Canonical identities and alias resolution
//   - pkg/auth: Application tokens and audit logging
package sso
