package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/observability"
)

// UserProvisioner handles JIT (Just-In-Time) user provisioning.
//
// Upstream logins are joined to identities by email, so a user who signs in
// with any of their known aliases lands on the same canonical record. New
// users are created through the reconciliation engine, which enforces the
// email uniqueness invariant.
type UserProvisioner struct {
	store  identity.Store
	policy *identity.DomainOrderPolicy
	logger *observability.Logger
}

// NewUserProvisioner creates a new user provisioner
func NewUserProvisioner(store identity.Store, policy *identity.DomainOrderPolicy, logger *observability.Logger) *UserProvisioner {
	return &UserProvisioner{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// ProvisionUser provisions or updates a user from SSO
func (p *UserProvisioner) ProvisionUser(ctx context.Context, ssoUser *SSOUser, config *ProviderConfig) (*identity.Identity, error) {
	email := identity.Normalize(ssoUser.Email)
	if err := identity.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("provider returned unusable email: %w", err)
	}

	ident, err := p.store.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		if !config.AutoProvision {
			return nil, fmt.Errorf("unknown user %s and auto-provisioning is disabled", email)
		}
		ident, err = p.createIdentity(ctx, ssoUser, config, email)
	}
	if err != nil {
		return nil, err
	}

	if err := p.refreshIdentity(ctx, ident, ssoUser, config); err != nil {
		return nil, err
	}

	if err := p.store.RecordLogin(ctx, email, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	return p.store.GetByEmail(ctx, email)
}

// createIdentity runs a single-row reconciliation to create the user. Going
// through the reconciler keeps every write path subject to the same alias
// uniqueness checks.
func (p *UserProvisioner) createIdentity(ctx context.Context, ssoUser *SSOUser, config *ProviderConfig, email string) (*identity.Identity, error) {
	row := identity.ImportRow{
		FirstName: ssoUser.FirstName,
		LastName:  ssoUser.LastName,
		Emails:    []string{email},
	}
	if row.FirstName == "" || row.LastName == "" {
		first, last := splitFullName(ssoUser.FullName)
		if row.FirstName == "" {
			row.FirstName = first
		}
		if row.LastName == "" {
			row.LastName = last
		}
	}
	if row.FirstName == "" || row.LastName == "" {
		return nil, fmt.Errorf("provider did not supply a usable name for %s", email)
	}

	grants := p.grantsFor(ssoUser, config)

	rc := identity.NewReconciler(p.store, p.policy, p.logger)
	report, err := rc.Reconcile(ctx, []identity.ImportRow{row}, grants, false)
	if err != nil {
		return nil, fmt.Errorf("failed to provision user %s: %w", email, err)
	}
	if report.UsersCreated == 0 && report.UsersUpdated == 0 {
		return nil, fmt.Errorf("provisioning produced no identity for %s", email)
	}

	p.logger.WithFields(map[string]interface{}{
		"email":    email,
		"provider": config.Name,
	}).Info("provisioned new user from SSO login")

	return p.store.GetByEmail(ctx, email)
}

// refreshIdentity folds provider-supplied names and group grants into an
// existing identity. Name fields only fill blanks; the import pipeline owns
// authoritative name data.
func (p *UserProvisioner) refreshIdentity(ctx context.Context, ident *identity.Identity, ssoUser *SSOUser, config *ProviderConfig) error {
	updated := *ident
	changed := false

	if updated.FirstName == "" && ssoUser.FirstName != "" {
		updated.FirstName = ssoUser.FirstName
		changed = true
	}
	if updated.LastName == "" && ssoUser.LastName != "" {
		updated.LastName = ssoUser.LastName
		changed = true
	}

	grants := p.grantsFor(ssoUser, config)
	for _, app := range grants {
		if !containsString(updated.PermittedApps, app) {
			changed = true
		}
	}

	if !changed {
		return nil
	}

	decision := &identity.Decision{
		Action:    identity.ActionUpdate,
		Identity:  &updated,
		GrantApps: grants,
	}
	if err := p.store.Apply(ctx, decision); err != nil {
		return fmt.Errorf("failed to refresh identity %s: %w", ident.ID, err)
	}
	return nil
}

// grantsFor computes the application grants a login should carry: the
// provider's default apps plus any apps mapped from the user's groups.
func (p *UserProvisioner) grantsFor(ssoUser *SSOUser, config *ProviderConfig) []string {
	var apps []string
	for _, app := range strings.Split(config.DefaultApps, ",") {
		if app = strings.TrimSpace(app); app != "" && !containsString(apps, app) {
			apps = append(apps, app)
		}
	}

	if len(ssoUser.Groups) == 0 || len(config.GroupMapping) == 0 {
		return apps
	}

	groupToApp := make(map[string]string, len(config.GroupMapping))
	for _, mapping := range config.GroupMapping {
		groupToApp[mapping.SSOGroup] = mapping.AppKey
	}

	for _, group := range ssoUser.Groups {
		if app, ok := groupToApp[group]; ok && !containsString(apps, app) {
			apps = append(apps, app)
		}
	}
	return apps
}

// splitFullName breaks a display name into first and last: the first word and
// everything after it. A single-word name is used for both fields.
func splitFullName(full string) (string, string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], fields[0]
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// SessionManager manages broker sessions issued after a successful upstream
// login. Sessions live in memory: they are cheap to re-establish (the next
// request bounces through the IdP), so restarts dropping them is acceptable.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*SSOSession
	ttl      time.Duration
}

// NewSessionManager creates a new session manager
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*SSOSession),
		ttl:      ttl,
	}
}

// NewSessionID generates an opaque session identifier
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession creates a new SSO session for the user and returns it
func (sm *SessionManager) CreateSession(userID, externalUserID, providerName, samlSessionIndex string) (*SSOSession, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &SSOSession{
		ID:               id,
		UserID:           userID,
		ExternalUserID:   externalUserID,
		ProviderName:     providerName,
		SAMLSessionIndex: samlSessionIndex,
		CreatedAt:        now,
		ExpiresAt:        now.Add(sm.ttl),
	}

	sm.mu.Lock()
	sm.sessions[id] = session
	sm.mu.Unlock()

	return session, nil
}

// GetSession retrieves a live session; expired sessions are treated as absent
func (sm *SessionManager) GetSession(sessionID string) (*SSOSession, error) {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if !ok || time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DeleteSession deletes an SSO session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
}

// CleanupExpiredSessions removes expired sessions and reports how many
func (sm *SessionManager) CleanupExpiredSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, session := range sm.sessions {
		if now.After(session.ExpiresAt) {
			delete(sm.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveSessions returns the number of live sessions
func (sm *SessionManager) ActiveSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	count := 0
	now := time.Now()
	for _, session := range sm.sessions {
		if now.Before(session.ExpiresAt) {
			count++
		}
	}
	return count
}
