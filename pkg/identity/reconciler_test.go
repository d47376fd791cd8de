package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store applying decisions the way the real
// backends do: survivor written wholesale, duplicates removed, granted
// applications appended.
type fakeStore struct {
	byID    map[string]*Identity
	byEmail map[string]string
	applied int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (s *fakeStore) seed(ident *Identity) {
	s.byID[ident.ID] = ident
	for _, e := range ident.Emails {
		s.byEmail[e.Email] = ident.ID
	}
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (*Identity, error) {
	id, ok := s.byEmail[Normalize(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*Identity, error) {
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ident, nil
}

func (s *fakeStore) Apply(_ context.Context, d *Decision) error {
	s.applied++

	for _, dup := range d.DeleteIDs {
		if gone, ok := s.byID[dup]; ok {
			for _, e := range gone.Emails {
				delete(s.byEmail, e.Email)
			}
			delete(s.byID, dup)
		}
	}
	if prev, ok := s.byID[d.Identity.ID]; ok {
		for _, e := range prev.Emails {
			delete(s.byEmail, e.Email)
		}
	}

	survivor := *d.Identity
	survivor.PermittedApps = append(append([]string(nil), survivor.PermittedApps...), d.GrantApps...)
	s.seed(&survivor)
	return nil
}

func (s *fakeStore) AddAlias(_ context.Context, identityID, email string) error {
	email = Normalize(email)
	if owner, ok := s.byEmail[email]; ok && owner != identityID {
		return &AliasConflictError{Email: email, OwnerID: owner}
	}
	s.byEmail[email] = identityID
	return nil
}

func (s *fakeStore) RecordLogin(_ context.Context, email string, at time.Time) error {
	if _, ok := s.byEmail[Normalize(email)]; !ok {
		return ErrNotFound
	}
	return nil
}

func TestReconcileCreatesNewUser(t *testing.T) {
	store := newFakeStore()
	rc := NewReconciler(store, NewDomainOrderPolicy("corp.example"), nil)

	rows := []ImportRow{{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Emails:    []string{"ada@partner.example", "ada@corp.example"},
	}}

	report, err := rc.Reconcile(context.Background(), rows, []string{"wiki"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.RowsImported)
	assert.Equal(t, 1, report.UsersCreated)
	assert.Zero(t, report.UsersUpdated)
	assert.Zero(t, report.RowsFailed)

	ident, err := store.GetByEmail(context.Background(), "ada@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "ada@corp.example", ident.PrimaryEmail)
	assert.Equal(t, []string{"ada@corp.example", "ada@partner.example"}, ident.EmailStrings())
	assert.Equal(t, []string{"wiki"}, ident.PermittedApps)
}

func TestReconcileMergesDuplicates(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.seed(&Identity{
		ID:           "id-corp",
		PrimaryEmail: "ada@corp.example",
		Emails:       []EmailAddress{{Email: "ada@corp.example"}},
		CreatedAt:    now,
	})
	store.seed(&Identity{
		ID:           "id-partner",
		PrimaryEmail: "ada@partner.example",
		Emails:       []EmailAddress{{Email: "ada@partner.example"}},
		CreatedAt:    now,
	})

	rc := NewReconciler(store, NewDomainOrderPolicy("corp.example, partner.example"), nil)
	rows := []ImportRow{{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Emails:    []string{"ada@partner.example", "ada@corp.example"},
	}}

	report, err := rc.Reconcile(context.Background(), rows, nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.RowsImported)
	assert.Equal(t, 1, report.UsersUpdated)
	assert.Equal(t, 1, report.UsersDeleted)
	assert.Zero(t, report.UsersCreated)

	// The identity at the higher-priority domain survives and absorbs the
	// other's address.
	survivor, err := store.GetByEmail(context.Background(), "ada@partner.example")
	require.NoError(t, err)
	assert.Equal(t, "id-corp", survivor.ID)
	assert.Equal(t, "ada@corp.example", survivor.PrimaryEmail)

	_, err = store.GetByID(context.Background(), "id-partner")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileDryRunPersistsNothing(t *testing.T) {
	store := newFakeStore()
	store.seed(&Identity{
		ID:           "id-corp",
		PrimaryEmail: "ada@corp.example",
		Emails:       []EmailAddress{{Email: "ada@corp.example"}},
	})
	store.seed(&Identity{
		ID:           "id-partner",
		PrimaryEmail: "ada@partner.example",
		Emails:       []EmailAddress{{Email: "ada@partner.example"}},
	})

	rc := NewReconciler(store, NewDomainOrderPolicy("corp.example"), nil)
	rows := []ImportRow{{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Emails:    []string{"ada@corp.example", "ada@partner.example"},
	}}

	report, err := rc.Reconcile(context.Background(), rows, nil, true)
	require.NoError(t, err)

	// Same report as a live run, nothing written.
	assert.Equal(t, 1, report.UsersUpdated)
	assert.Equal(t, 1, report.UsersDeleted)
	assert.Zero(t, store.applied)

	still, err := store.GetByID(context.Background(), "id-partner")
	require.NoError(t, err)
	assert.Equal(t, "ada@partner.example", still.PrimaryEmail)
}

func TestReconcileSkipsInvalidRows(t *testing.T) {
	store := newFakeStore()
	rc := NewReconciler(store, NewDomainOrderPolicy(""), nil)

	rows := []ImportRow{
		{FirstName: "Grace"}, // no last name, no emails
		{FirstName: "Grace", LastName: "Hopper", Emails: []string{"grace@corp.example"}},
	}

	report, err := rc.Reconcile(context.Background(), rows, nil, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.RowsFailed)
	assert.Equal(t, 1, report.RowsImported)
	assert.Equal(t, 1, report.UsersCreated)

	_, err = store.GetByEmail(context.Background(), "grace@corp.example")
	assert.NoError(t, err)
}

func TestReconcileCreateWithoutOrderUsesLastEmail(t *testing.T) {
	store := newFakeStore()
	rc := NewReconciler(store, NewDomainOrderPolicy(""), nil)

	rows := []ImportRow{{
		FirstName: "Grace",
		LastName:  "Hopper",
		Emails:    []string{"grace@corp.example", "grace@partner.example"},
	}}

	_, err := rc.Reconcile(context.Background(), rows, nil, false)
	require.NoError(t, err)

	ident, err := store.GetByEmail(context.Background(), "grace@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "grace@partner.example", ident.PrimaryEmail)
}
