package sso

import (
	"fmt"
	"sync"
	"time"
)

// MemoryProviderStore keeps provider configurations in memory. Deployments
// without a SQL backend load providers from static configuration at startup.
type MemoryProviderStore struct {
	mu     sync.RWMutex
	byName map[string]*ProviderConfig
	nextID int64
}

// NewMemoryProviderStore creates an empty in-memory provider store
func NewMemoryProviderStore() *MemoryProviderStore {
	return &MemoryProviderStore{
		byName: make(map[string]*ProviderConfig),
		nextID: 1,
	}
}

// CreateProvider registers a provider configuration
func (m *MemoryProviderStore) CreateProvider(config *ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[config.Name]; exists {
		return fmt.Errorf("provider %q already exists", config.Name)
	}

	now := time.Now()
	stored := *config
	stored.ID = m.nextID
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.nextID++
	m.byName[config.Name] = &stored

	config.ID = stored.ID
	config.CreatedAt = now
	config.UpdatedAt = now
	return nil
}

// GetProvider retrieves a provider by name
func (m *MemoryProviderStore) GetProvider(name string) (*ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, ok := m.byName[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	copied := *config
	return &copied, nil
}

// ListProviders lists all providers, sorted is not guaranteed
func (m *MemoryProviderStore) ListProviders(enabledOnly bool) ([]*ProviderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var providers []*ProviderConfig
	for _, config := range m.byName {
		if enabledOnly && !config.Enabled {
			continue
		}
		copied := *config
		providers = append(providers, &copied)
	}
	return providers, nil
}

// UpdateProvider updates an existing provider
func (m *MemoryProviderStore) UpdateProvider(config *ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byName[config.Name]
	if !ok {
		return ErrProviderNotFound
	}

	updated := *config
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	m.byName[config.Name] = &updated
	return nil
}

// DeleteProvider deletes a provider
func (m *MemoryProviderStore) DeleteProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byName, name)
	return nil
}

// ProviderExists checks if a provider with the given name exists
func (m *MemoryProviderStore) ProviderExists(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byName[name]
	return ok, nil
}

var _ ProviderStore = (*MemoryProviderStore)(nil)
var _ ProviderStore = (*Storage)(nil)
