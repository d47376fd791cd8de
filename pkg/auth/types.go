package auth

import "time"

// Scope represents an API token scope
type Scope string

const (
	ScopeSettingsRead  Scope = "settings:read"
	ScopeSettingsWrite Scope = "settings:write"
	ScopeUsersRead     Scope = "users:read"
	ScopeUsersImport   Scope = "users:import"
	ScopeUsersExport   Scope = "users:export"
	ScopeAdmin         Scope = "admin"
	ScopeAll           Scope = "*" // All permissions
)

// AppToken is a bearer token issued to a consuming application.
//
// The plaintext token is returned exactly once at issue time; only the
// SHA256 hash is kept afterwards.
type AppToken struct {
	AppKey       string     `json:"app_key"`
	TokenHash    string     `json:"-"` // Never expose hash
	TokenPrefix  string     `json:"token_prefix"`
	Name         string     `json:"name"`
	Scopes       []Scope    `json:"scopes"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// HasScope checks if the token carries a specific scope
func (t *AppToken) HasScope(scope Scope) bool {
	for _, s := range t.Scopes {
		if s == ScopeAll || s == ScopeAdmin {
			return true
		}
		if s == scope {
			return true
		}
	}
	return false
}

// AuthContext holds the authenticated caller for a request
type AuthContext struct {
	AppKey string
	Token  *AppToken
}

// HasScope checks if the context has a specific scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	if ac.Token == nil {
		return false
	}
	return ac.Token.HasScope(scope)
}
