package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
)

// MemoryStore is an in-memory Store for tests and single-process use. Alias
// uniqueness is enforced through a MemoryAliasIndex; settings rows are keyed
// (user, app, root key) so the one-row-per-root-key invariant holds by
// construction.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*identity.Identity
	index *identity.MemoryAliasIndex

	// settings rows: userID -> appSlug -> rootKey -> row
	rows map[string]map[string]map[string]settings.Row
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*identity.Identity),
		index: identity.NewMemoryAliasIndex(),
		rows:  make(map[string]map[string]map[string]settings.Row),
	}
}

// GetByEmail implements identity.Store.
func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, err := m.index.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return cloneIdentity(owner), nil
}

// GetByID implements identity.Store.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*identity.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found, ok := m.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return cloneIdentity(found), nil
}

// Apply implements identity.Store. The decision is validated against the
// alias index before any state changes, so a conflicting address leaves the
// store untouched.
func (m *MemoryStore) Apply(ctx context.Context, d *identity.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	survivor := cloneIdentity(d.Identity)
	now := time.Now().UTC()
	if d.Action == identity.ActionCreate {
		survivor.CreatedAt = now
	}
	survivor.UpdatedAt = now

	deleting := make(map[string]struct{}, len(d.DeleteIDs))
	for _, id := range d.DeleteIDs {
		deleting[id] = struct{}{}
	}

	// Conflict check first: every address the survivor claims must be free,
	// owned by the survivor already, or owned by an identity being absorbed.
	for _, e := range survivor.Emails {
		current, err := m.index.GetByEmail(ctx, e.Email)
		if err != nil {
			continue
		}
		if current.ID == survivor.ID {
			continue
		}
		if _, absorbed := deleting[current.ID]; absorbed {
			continue
		}
		return &identity.AliasConflictError{Email: e.Email, OwnerID: current.ID}
	}

	for id := range deleting {
		if gone, ok := m.byID[id]; ok {
			for _, e := range gone.Emails {
				_ = m.index.Release(ctx, e.Email)
			}
			delete(m.byID, id)
		}
	}

	// Release addresses the survivor no longer owns, then register the
	// final set.
	if prev, ok := m.byID[survivor.ID]; ok {
		for _, e := range prev.Emails {
			if !survivor.OwnsEmail(e.Email) {
				_ = m.index.Release(ctx, e.Email)
			}
		}
	}
	for _, e := range survivor.Emails {
		if err := m.index.Register(ctx, survivor, e.Email); err != nil {
			return err
		}
	}

	for _, app := range d.GrantApps {
		if !containsString(survivor.PermittedApps, app) {
			survivor.PermittedApps = append(survivor.PermittedApps, app)
		}
	}

	m.byID[survivor.ID] = survivor
	return nil
}

// AddAlias implements identity.Store.
func (m *MemoryStore) AddAlias(ctx context.Context, identityID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.byID[identityID]
	if !ok {
		return identity.ErrNotFound
	}
	email = identity.Normalize(email)
	if owner.OwnsEmail(email) {
		return nil
	}
	if err := m.index.Register(ctx, owner, email); err != nil {
		return err
	}
	owner.Emails = append(owner.Emails, identity.EmailAddress{Email: email})
	owner.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordLogin implements identity.Store.
func (m *MemoryStore) RecordLogin(ctx context.Context, email string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, err := m.index.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	email = identity.Normalize(email)
	for i := range owner.Emails {
		if owner.Emails[i].Email == email {
			t := at.UTC()
			owner.Emails[i].LastLogin = &t
			owner.LastAccessed = &t
			return nil
		}
	}
	return identity.ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]*identity.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*identity.Identity, 0, len(m.byID))
	for _, id := range m.byID {
		out = append(out, cloneIdentity(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrimaryEmail < out[j].PrimaryEmail })
	return out, nil
}

// RowsFor implements settings.Store.
func (m *MemoryStore) RowsFor(_ context.Context, userID, appSlug string) ([]settings.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKey := m.rows[userID][appSlug]
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]settings.Row, 0, len(keys))
	for _, key := range keys {
		out = append(out, byKey[key])
	}
	return out, nil
}

// AppSlugs implements settings.Store.
func (m *MemoryStore) AppSlugs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slugs := make([]string, 0, len(m.rows[userID]))
	for slug, byKey := range m.rows[userID] {
		if len(byKey) > 0 {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// PutRow implements settings.Store.
func (m *MemoryStore) PutRow(_ context.Context, userID, appSlug string, row settings.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rows[userID] == nil {
		m.rows[userID] = make(map[string]map[string]settings.Row)
	}
	if m.rows[userID][appSlug] == nil {
		m.rows[userID][appSlug] = make(map[string]settings.Row)
	}
	m.rows[userID][appSlug][row.RootKey] = row
	return nil
}

// DeleteRowsMatchingPrefix implements settings.Store.
func (m *MemoryStore) DeleteRowsMatchingPrefix(_ context.Context, userID, appSlug, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rootKey := settings.RootKeyOf(prefix)
	byKey := m.rows[userID][appSlug]
	row, ok := byKey[rootKey]
	if !ok {
		return 0, nil
	}

	replacement, remove, err := settings.ApplyPrefixDelete(row, prefix)
	if err != nil {
		return 0, err
	}
	if remove {
		delete(byKey, rootKey)
	} else {
		byKey[rootKey] = replacement
	}
	return 1, nil
}

// HealthCheck implements Store.
func (m *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	out := *id
	out.Emails = append([]identity.EmailAddress(nil), id.Emails...)
	out.PermittedApps = append([]string(nil), id.PermittedApps...)
	out.AccessProfiles = append([]string(nil), id.AccessProfiles...)
	if id.LastAccessed != nil {
		t := *id.LastAccessed
		out.LastAccessed = &t
	}
	return &out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
