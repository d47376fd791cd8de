package identity

import (
	"context"
	"sync"
)

// Lookup resolves an email alias to its owning identity.
type Lookup interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
}

// AliasIndex maintains the global email-to-identity mapping and enforces
// alias uniqueness.
type AliasIndex interface {
	Lookup
	// Register assigns ownership of an address. Registering an address
	// already owned by a different identity fails with AliasConflictError;
	// re-registering under the same owner is a no-op.
	Register(ctx context.Context, owner *Identity, email string) error
	// Release removes ownership of an address. Releasing an unknown
	// address is a no-op.
	Release(ctx context.Context, email string) error
}

// MemoryAliasIndex is an in-memory AliasIndex, safe for concurrent use. It
// backs the in-memory store and tests; the PostgreSQL store enforces the
// same contract with a unique index instead.
type MemoryAliasIndex struct {
	mu      sync.RWMutex
	byEmail map[string]*Identity
}

// NewMemoryAliasIndex creates an empty index.
func NewMemoryAliasIndex() *MemoryAliasIndex {
	return &MemoryAliasIndex{byEmail: make(map[string]*Identity)}
}

// GetByEmail implements Lookup.
func (x *MemoryAliasIndex) GetByEmail(_ context.Context, email string) (*Identity, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	owner, ok := x.byEmail[Normalize(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return owner, nil
}

// Register implements AliasIndex.
func (x *MemoryAliasIndex) Register(_ context.Context, owner *Identity, email string) error {
	email = Normalize(email)

	x.mu.Lock()
	defer x.mu.Unlock()

	if current, ok := x.byEmail[email]; ok && current.ID != owner.ID {
		return &AliasConflictError{Email: email, OwnerID: current.ID}
	}
	x.byEmail[email] = owner
	return nil
}

// Release implements AliasIndex.
func (x *MemoryAliasIndex) Release(_ context.Context, email string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.byEmail, Normalize(email))
	return nil
}
