package sso

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProviderNotFound is returned when no provider matches the lookup.
var ErrProviderNotFound = errors.New("sso provider not found")

// ProviderStore persists upstream provider configurations.
type ProviderStore interface {
	CreateProvider(config *ProviderConfig) error
	GetProvider(name string) (*ProviderConfig, error)
	ListProviders(enabledOnly bool) ([]*ProviderConfig, error)
	UpdateProvider(config *ProviderConfig) error
	DeleteProvider(name string) error
	ProviderExists(name string) (bool, error)
}

const providerSchema = `
CREATE TABLE IF NOT EXISTS sso_providers (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    provider_type TEXT NOT NULL,
    provider_name TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT true,
    auto_provision BOOLEAN NOT NULL DEFAULT false,
    default_apps TEXT NOT NULL DEFAULT '',
    saml_config JSONB,
    oauth2_config JSONB,
    oidc_config JSONB,
    group_mapping JSONB,
    attribute_mapping JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const providerColumns = `id, name, provider_type, provider_name, enabled, auto_provision, default_apps,
	saml_config, oauth2_config, oidc_config, group_mapping, attribute_mapping,
	created_at, updated_at`

// Storage handles SSO provider configuration storage in PostgreSQL
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new SSO storage
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Migrate creates the provider table if it does not exist
func (s *Storage) Migrate() error {
	if _, err := s.db.Exec(providerSchema); err != nil {
		return fmt.Errorf("failed to run sso provider migration: %w", err)
	}
	return nil
}

// providerJSON holds the marshaled JSONB columns of one provider row.
type providerJSON struct {
	saml   []byte
	oauth2 []byte
	oidc   []byte
	groups []byte
	attrs  []byte
}

// marshalProviderJSON serializes the nested configs. Absent protocol
// configs stay NULL in their columns.
func marshalProviderJSON(config *ProviderConfig) (*providerJSON, error) {
	var pj providerJSON
	var err error

	if config.SAMLConfig != nil {
		if pj.saml, err = json.Marshal(config.SAMLConfig); err != nil {
			return nil, fmt.Errorf("failed to marshal SAML config: %w", err)
		}
	}
	if config.OAuth2Config != nil {
		if pj.oauth2, err = json.Marshal(config.OAuth2Config); err != nil {
			return nil, fmt.Errorf("failed to marshal OAuth2 config: %w", err)
		}
	}
	if config.OIDCConfig != nil {
		if pj.oidc, err = json.Marshal(config.OIDCConfig); err != nil {
			return nil, fmt.Errorf("failed to marshal OIDC config: %w", err)
		}
	}
	if len(config.GroupMapping) > 0 {
		if pj.groups, err = json.Marshal(config.GroupMapping); err != nil {
			return nil, fmt.Errorf("failed to marshal group mapping: %w", err)
		}
	}
	if pj.attrs, err = json.Marshal(config.AttributeMapping); err != nil {
		return nil, fmt.Errorf("failed to marshal attribute mapping: %w", err)
	}

	return &pj, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProvider reads one provider row, including the JSONB columns.
func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var pj providerJSON

	config := &ProviderConfig{}
	err := row.Scan(
		&config.ID, &config.Name, &config.ProviderType, &config.ProviderName,
		&config.Enabled, &config.AutoProvision, &config.DefaultApps,
		&pj.saml, &pj.oauth2, &pj.oidc, &pj.groups, &pj.attrs,
		&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(pj.saml) > 0 {
		config.SAMLConfig = &SAMLConfig{}
		if err := json.Unmarshal(pj.saml, config.SAMLConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal SAML config: %w", err)
		}
	}
	if len(pj.oauth2) > 0 {
		config.OAuth2Config = &OAuth2Config{}
		if err := json.Unmarshal(pj.oauth2, config.OAuth2Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OAuth2 config: %w", err)
		}
	}
	if len(pj.oidc) > 0 {
		config.OIDCConfig = &OIDCConfig{}
		if err := json.Unmarshal(pj.oidc, config.OIDCConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OIDC config: %w", err)
		}
	}
	if len(pj.groups) > 0 {
		if err := json.Unmarshal(pj.groups, &config.GroupMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal group mapping: %w", err)
		}
	}
	if err := json.Unmarshal(pj.attrs, &config.AttributeMapping); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attribute mapping: %w", err)
	}

	return config, nil
}

// CreateProvider creates a new SSO provider configuration
func (s *Storage) CreateProvider(config *ProviderConfig) error {
	pj, err := marshalProviderJSON(config)
	if err != nil {
		return err
	}

	return s.db.QueryRow(`
		INSERT INTO sso_providers (
			name, provider_type, provider_name, enabled, auto_provision, default_apps,
			saml_config, oauth2_config, oidc_config, group_mapping, attribute_mapping,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id
	`, config.Name, config.ProviderType, config.ProviderName, config.Enabled,
		config.AutoProvision, config.DefaultApps, pj.saml, pj.oauth2,
		pj.oidc, pj.groups, pj.attrs).Scan(&config.ID)
}

// GetProvider retrieves a provider by name
func (s *Storage) GetProvider(name string) (*ProviderConfig, error) {
	row := s.db.QueryRow(
		`SELECT `+providerColumns+` FROM sso_providers WHERE name = $1`, name)

	config, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	return config, err
}

// GetProviderByID retrieves a provider by ID
func (s *Storage) GetProviderByID(id int64) (*ProviderConfig, error) {
	row := s.db.QueryRow(
		`SELECT `+providerColumns+` FROM sso_providers WHERE id = $1`, id)

	config, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	return config, err
}

// ListProviders lists all SSO providers
func (s *Storage) ListProviders(enabledOnly bool) ([]*ProviderConfig, error) {
	query := `SELECT ` + providerColumns + ` FROM sso_providers`
	if enabledOnly {
		query += " WHERE enabled = true"
	}
	query += " ORDER BY name"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*ProviderConfig
	for rows.Next() {
		config, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, config)
	}

	return providers, rows.Err()
}

// UpdateProvider updates an existing provider
func (s *Storage) UpdateProvider(config *ProviderConfig) error {
	pj, err := marshalProviderJSON(config)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE sso_providers
		SET provider_type = $1, provider_name = $2, enabled = $3, auto_provision = $4,
			default_apps = $5, saml_config = $6, oauth2_config = $7, oidc_config = $8,
			group_mapping = $9, attribute_mapping = $10, updated_at = NOW()
		WHERE id = $11
	`, config.ProviderType, config.ProviderName, config.Enabled, config.AutoProvision,
		config.DefaultApps, pj.saml, pj.oauth2, pj.oidc,
		pj.groups, pj.attrs, config.ID)

	return err
}

// DeleteProvider deletes a provider
func (s *Storage) DeleteProvider(name string) error {
	_, err := s.db.Exec(`DELETE FROM sso_providers WHERE name = $1`, name)
	return err
}

// ProviderExists checks if a provider with the given name exists
func (s *Storage) ProviderExists(name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM sso_providers WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}
