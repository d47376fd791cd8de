package sso

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/storage"
)

func newTestProvisioner(t *testing.T) (*UserProvisioner, *storage.MemoryStore) {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := storage.NewMemoryStore()
	policy := identity.NewDomainOrderPolicy("corp.com")
	return NewUserProvisioner(store, policy, logger), store
}

func provisionConfig() *ProviderConfig {
	return &ProviderConfig{
		Name:          "corp-idp",
		ProviderType:  ProviderTypeOIDC,
		Enabled:       true,
		AutoProvision: true,
		DefaultApps:   "wiki",
		GroupMapping: []GroupMap{
			{SSOGroup: "engineering", AppKey: "ticket-tool"},
			{SSOGroup: "finance", AppKey: "payroll"},
		},
	}
}

func TestProvisionUserCreatesIdentity(t *testing.T) {
	provisioner, store := newTestProvisioner(t)

	ssoUser := &SSOUser{
		ExternalID: "ext-1",
		Email:      "Jane.Doe@Corp.com",
		FirstName:  "Jane",
		LastName:   "Doe",
		Groups:     []string{"engineering"},
	}

	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)

	assert.Equal(t, "jane.doe@corp.com", ident.PrimaryEmail)
	assert.Equal(t, "Jane", ident.FirstName)
	assert.Equal(t, "Doe", ident.LastName)
	assert.Contains(t, ident.PermittedApps, "wiki")
	assert.Contains(t, ident.PermittedApps, "ticket-tool")
	assert.NotContains(t, ident.PermittedApps, "payroll")
	require.NotNil(t, ident.LastAccessed, "login must be recorded")

	// Second login resolves to the same identity
	again, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Equal(t, ident.ID, again.ID)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProvisionUserJoinsByAlias(t *testing.T) {
	provisioner, store := newTestProvisioner(t)

	existing := &identity.Identity{
		ID:           "user-1",
		PrimaryEmail: "jane@corp.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		Emails: []identity.EmailAddress{
			{Email: "jane@corp.com"},
			{Email: "jdoe@legacy.example"},
		},
	}
	require.NoError(t, store.Apply(context.Background(), &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: existing,
	}))

	// Login with the secondary alias lands on the same canonical record
	ssoUser := &SSOUser{Email: "JDOE@legacy.example"}
	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Equal(t, "user-1", ident.ID)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProvisionUserAutoProvisionDisabled(t *testing.T) {
	provisioner, _ := newTestProvisioner(t)

	config := provisionConfig()
	config.AutoProvision = false

	_, err := provisioner.ProvisionUser(context.Background(), &SSOUser{Email: "nobody@corp.com"}, config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto-provisioning is disabled")
}

func TestProvisionUserRejectsBadEmail(t *testing.T) {
	provisioner, _ := newTestProvisioner(t)

	for _, email := range []string{"", "not-an-email", "@no-local-part"} {
		_, err := provisioner.ProvisionUser(context.Background(), &SSOUser{Email: email}, provisionConfig())
		assert.Error(t, err, "email %q must be rejected", email)
	}
}

func TestProvisionUserSplitsFullName(t *testing.T) {
	provisioner, _ := newTestProvisioner(t)

	ssoUser := &SSOUser{Email: "jane@corp.com", FullName: "Jane van der Doe"}
	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Equal(t, "Jane", ident.FirstName)
	assert.Equal(t, "van der Doe", ident.LastName)
}

func TestProvisionUserRequiresName(t *testing.T) {
	provisioner, _ := newTestProvisioner(t)

	_, err := provisioner.ProvisionUser(context.Background(), &SSOUser{Email: "jane@corp.com"}, provisionConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usable name")
}

func TestProvisionUserFillsBlankNames(t *testing.T) {
	provisioner, store := newTestProvisioner(t)

	require.NoError(t, store.Apply(context.Background(), &identity.Decision{
		Action: identity.ActionCreate,
		Identity: &identity.Identity{
			ID:           "user-1",
			PrimaryEmail: "jane@corp.com",
			Emails:       []identity.EmailAddress{{Email: "jane@corp.com"}},
		},
	}))

	ssoUser := &SSOUser{Email: "jane@corp.com", FirstName: "Jane", LastName: "Doe"}
	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Equal(t, "Jane", ident.FirstName)
	assert.Equal(t, "Doe", ident.LastName)
}

func TestProvisionUserKeepsExistingNames(t *testing.T) {
	provisioner, store := newTestProvisioner(t)

	require.NoError(t, store.Apply(context.Background(), &identity.Decision{
		Action: identity.ActionCreate,
		Identity: &identity.Identity{
			ID:           "user-1",
			PrimaryEmail: "jane@corp.com",
			FirstName:    "Janet",
			LastName:     "Doe-Smith",
			Emails:       []identity.EmailAddress{{Email: "jane@corp.com"}},
		},
	}))

	ssoUser := &SSOUser{Email: "jane@corp.com", FirstName: "Jane", LastName: "Doe"}
	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Equal(t, "Janet", ident.FirstName)
	assert.Equal(t, "Doe-Smith", ident.LastName)
}

func TestProvisionUserGrantsNewGroupApps(t *testing.T) {
	provisioner, store := newTestProvisioner(t)

	require.NoError(t, store.Apply(context.Background(), &identity.Decision{
		Action: identity.ActionCreate,
		Identity: &identity.Identity{
			ID:            "user-1",
			PrimaryEmail:  "jane@corp.com",
			Emails:        []identity.EmailAddress{{Email: "jane@corp.com"}},
			PermittedApps: []string{"wiki"},
		},
	}))

	ssoUser := &SSOUser{Email: "jane@corp.com", Groups: []string{"finance"}}
	ident, err := provisioner.ProvisionUser(context.Background(), ssoUser, provisionConfig())
	require.NoError(t, err)
	assert.Contains(t, ident.PermittedApps, "wiki")
	assert.Contains(t, ident.PermittedApps, "payroll")
}

func TestGrantsFor(t *testing.T) {
	provisioner, _ := newTestProvisioner(t)

	tests := []struct {
		name        string
		defaultApps string
		groups      []string
		want        []string
	}{
		{"defaults only", "wiki", nil, []string{"wiki"}},
		{"defaults trimmed and deduped", " wiki , wiki ,payroll", nil, []string{"wiki", "payroll"}},
		{"group mapping", "wiki", []string{"engineering"}, []string{"wiki", "ticket-tool"}},
		{"unmapped group ignored", "wiki", []string{"marketing"}, []string{"wiki"}},
		{"group app deduped against defaults", "ticket-tool", []string{"engineering"}, []string{"ticket-tool"}},
		{"no defaults", "", []string{"finance"}, []string{"payroll"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := provisionConfig()
			config.DefaultApps = tt.defaultApps
			got := provisioner.grantsFor(&SSOUser{Groups: tt.groups}, config)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSessionManagerLifecycle(t *testing.T) {
	sm := NewSessionManager(time.Hour)

	session, err := sm.CreateSession("user-1", "ext-1", "corp-idp", "idx-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "idx-1", session.SAMLSessionIndex)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))

	got, err := sm.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, 1, sm.ActiveSessions())

	sm.DeleteSession(session.ID)
	_, err = sm.GetSession(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, sm.ActiveSessions())
}

func TestSessionManagerExpiry(t *testing.T) {
	sm := NewSessionManager(-time.Minute) // sessions are born expired

	session, err := sm.CreateSession("user-1", "ext-1", "corp-idp", "")
	require.NoError(t, err)

	_, err = sm.GetSession(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, sm.ActiveSessions())

	removed := sm.CleanupExpiredSessions()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, sm.CleanupExpiredSessions())
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewSessionID()
		require.NoError(t, err)
		assert.Len(t, id, 64) // 32 random bytes hex encoded
		assert.False(t, seen[id], "session IDs must be unique")
		seen[id] = true
	}
}
