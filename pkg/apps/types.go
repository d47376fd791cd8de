// Package apps holds the registry of consuming applications: the per-app
// flags that shape which email a user is presented as, who may access the
// app, and what the app may read from the settings store.
package apps

import (
	"strings"

	"github.com/crossfield/ssobroker/pkg/identity"
)

// Application describes one registered consumer of the broker.
type Application struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"display_name"`
	Public      bool   `yaml:"public"`
	StartURL    string `yaml:"start_url"`

	// Access control
	DefaultAccessAllowed     bool     `yaml:"default_access_allowed"`
	AllowAccessByEmailSuffix []string `yaml:"allow_access_by_email_suffix"`

	// Email presentation
	EmailOrdering         string `yaml:"email_ordering"` // comma-separated domain priority override
	ProvideImmutableEmail bool   `yaml:"provide_immutable_email"`

	// Settings privileges
	CanViewAllUserSettings bool `yaml:"can_view_all_user_settings"`
}

// EmailOrder returns the app's domain priority override parsed into a list,
// or the given default when the app has none.
func (a *Application) EmailOrder(defaultOrder []string) []string {
	if strings.TrimSpace(a.EmailOrdering) == "" {
		return defaultOrder
	}
	return identity.ParseDomainList(a.EmailOrdering)
}

// CanAccess reports whether the identity may use this application: open
// access, an address matching the suffix allow-list, or an explicit grant.
func (a *Application) CanAccess(ident *identity.Identity) bool {
	if a.DefaultAccessAllowed {
		return true
	}
	for _, suffix := range a.AllowAccessByEmailSuffix {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		for _, email := range ident.EmailStrings() {
			if strings.HasSuffix(email, suffix) {
				return true
			}
		}
	}
	for _, key := range ident.PermittedApps {
		if key == a.Key {
			return true
		}
	}
	return false
}
