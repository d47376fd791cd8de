package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
)

func newIdentity(id, primary string, aliases ...string) *identity.Identity {
	emails := []identity.EmailAddress{{Email: primary}}
	for _, a := range aliases {
		emails = append(emails, identity.EmailAddress{Email: a})
	}
	return &identity.Identity{
		ID:           id,
		PrimaryEmail: primary,
		FirstName:    "Test",
		LastName:     "User",
		Emails:       emails,
	}
}

func TestMemoryStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u1", "alice@aaa.com", "alice@bbb.com"),
	})
	require.NoError(t, err)

	byPrimary, err := store.GetByEmail(ctx, "alice@aaa.com")
	require.NoError(t, err)
	byAlias, err := store.GetByEmail(ctx, "alice@bbb.com")
	require.NoError(t, err)
	assert.Equal(t, byPrimary.ID, byAlias.ID)

	_, err = store.GetByEmail(ctx, "nobody@aaa.com")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestMemoryStoreApplyAbsorbsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u1", "a@aaa.com"),
	}))
	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u2", "a@bbb.com"),
	}))

	// u1 absorbs u2 and takes over its address.
	survivor := newIdentity("u1", "a@aaa.com", "a@bbb.com")
	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:    identity.ActionUpdate,
		Identity:  survivor,
		DeleteIDs: []string{"u2"},
		GrantApps: []string{"ticket-tool"},
	}))

	_, err := store.GetByID(ctx, "u2")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	got, err := store.GetByEmail(ctx, "a@bbb.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Contains(t, got.PermittedApps, "ticket-tool")
}

func TestMemoryStoreApplyConflictLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u1", "a@aaa.com"),
	}))
	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u2", "b@aaa.com"),
	}))

	// u1 claims u2's address without absorbing u2.
	err := store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionUpdate,
		Identity: newIdentity("u1", "a@aaa.com", "b@aaa.com"),
	})
	require.Error(t, err)
	assert.True(t, identity.IsAliasConflict(err))

	// b@aaa.com still belongs to u2.
	got, err := store.GetByEmail(ctx, "b@aaa.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)
}

func TestMemoryStoreAddAlias(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u1", "a@aaa.com"),
	}))
	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u2", "b@aaa.com"),
	}))

	require.NoError(t, store.AddAlias(ctx, "u1", "a@ccc.com"))
	got, err := store.GetByEmail(ctx, "a@ccc.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	// Re-adding is a no-op.
	require.NoError(t, store.AddAlias(ctx, "u1", "a@ccc.com"))

	err = store.AddAlias(ctx, "u2", "a@ccc.com")
	assert.True(t, identity.IsAliasConflict(err))

	err = store.AddAlias(ctx, "missing", "x@aaa.com")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestMemoryStoreRecordLogin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Apply(ctx, &identity.Decision{
		Action:   identity.ActionCreate,
		Identity: newIdentity("u1", "a@aaa.com", "a@bbb.com"),
	}))

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.RecordLogin(ctx, "a@bbb.com", at))

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessed)
	assert.Equal(t, at, *got.LastAccessed)

	var stamped *time.Time
	for _, e := range got.Emails {
		if e.Email == "a@bbb.com" {
			stamped = e.LastLogin
		}
	}
	require.NotNil(t, stamped)
	assert.Equal(t, at, *stamped)

	assert.ErrorIs(t, store.RecordLogin(ctx, "nobody@aaa.com", at), identity.ErrNotFound)
}

func TestMemoryStoreSettingsRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tree, err := settings.FromJSON(map[string]interface{}{
		"cakes": map[string]interface{}{
			"muffin": map[string]interface{}{
				"sprinkles": "true",
				"frosting":  "vanilla",
			},
		},
	})
	require.NoError(t, err)

	rows, err := settings.EncodeRows(tree)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, store.PutRow(ctx, "u1", "bakery", row))
	}

	stored, err := store.RowsFor(ctx, "u1", "bakery")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "cakes", stored[0].RootKey)

	slugs, err := store.AppSlugs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bakery"}, slugs)

	// Deleting one leaf rewrites the row in place.
	n, err := store.DeleteRowsMatchingPrefix(ctx, "u1", "bakery", "cakes.muffin.sprinkles")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err = store.RowsFor(ctx, "u1", "bakery")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	decoded, err := settings.DecodeRows(stored)
	require.NoError(t, err)
	_, ok := decoded.Lookup("cakes.muffin.sprinkles")
	assert.False(t, ok)
	_, ok = decoded.Lookup("cakes.muffin.frosting")
	assert.True(t, ok)

	// Deleting the last leaf removes the row entirely.
	n, err = store.DeleteRowsMatchingPrefix(ctx, "u1", "bakery", "cakes.muffin.frosting")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err = store.RowsFor(ctx, "u1", "bakery")
	require.NoError(t, err)
	assert.Empty(t, stored)

	// Missing rows are not an error at the storage layer.
	n, err = store.DeleteRowsMatchingPrefix(ctx, "u1", "bakery", "cakes")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, ident := range []*identity.Identity{
		newIdentity("u2", "zoe@aaa.com"),
		newIdentity("u1", "amy@aaa.com"),
	} {
		require.NoError(t, store.Apply(ctx, &identity.Decision{Action: identity.ActionCreate, Identity: ident}))
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "amy@aaa.com", all[0].PrimaryEmail)
	assert.Equal(t, "zoe@aaa.com", all[1].PrimaryEmail)
}
