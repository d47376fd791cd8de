package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// TokenPrefix identifies broker-issued tokens
	TokenPrefix = "sso_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates application tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new application token
// Format: sso_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	// SHA256 hash is what gets stored; the plaintext is shown once.
	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after "sso_" identify the token in listings
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix extracts the prefix from a token for display
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// ErrInvalidToken is returned when a presented token does not resolve to a
// live registration.
var ErrInvalidToken = fmt.Errorf("invalid or expired token")

// TokenRegistry manages application token lifecycle in memory.
//
// Tokens are issued at startup (one per registered application) or via the
// admin API, so the working set is small and never needs durable storage.
type TokenRegistry struct {
	mu        sync.RWMutex
	generator *TokenGenerator
	byHash    map[string]*AppToken
}

// NewTokenRegistry creates an empty token registry
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		generator: NewTokenGenerator(),
		byHash:    make(map[string]*AppToken),
	}
}

// Issue creates a new token for an application and returns the plaintext
// exactly once.
func (tr *TokenRegistry) Issue(appKey, name string, scopes []Scope, expiresAt *time.Time) (*AppToken, string, error) {
	if appKey == "" {
		return nil, "", fmt.Errorf("app key is required")
	}

	token, tokenHash, tokenPrefix, err := tr.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	appToken := &AppToken{
		AppKey:      appKey,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	tr.mu.Lock()
	tr.byHash[tokenHash] = appToken
	tr.mu.Unlock()

	return appToken, token, nil
}

// Validate resolves a presented token to its registration.
// Revoked and expired tokens fail with ErrInvalidToken; the caller cannot
// distinguish an unknown token from a dead one.
func (tr *TokenRegistry) Validate(token string) (*AppToken, error) {
	if err := tr.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("invalid token format: %w", err)
	}

	tokenHash := tr.generator.HashToken(token)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	appToken, ok := tr.byHash[tokenHash]
	if !ok {
		return nil, ErrInvalidToken
	}
	if appToken.RevokedAt != nil {
		return nil, ErrInvalidToken
	}
	if appToken.ExpiresAt != nil && time.Now().After(*appToken.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	now := time.Now()
	appToken.LastUsedAt = &now
	return appToken, nil
}

// Revoke marks every token with the given display prefix as revoked
func (tr *TokenRegistry) Revoke(tokenPrefix, reason string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	revoked := 0
	for _, appToken := range tr.byHash {
		if appToken.TokenPrefix != tokenPrefix || appToken.RevokedAt != nil {
			continue
		}
		now := time.Now()
		appToken.RevokedAt = &now
		appToken.RevokeReason = reason
		revoked++
	}

	if revoked == 0 {
		return fmt.Errorf("no active token with prefix %q", tokenPrefix)
	}
	return nil
}

// ListForApp lists all tokens registered to an application
func (tr *TokenRegistry) ListForApp(appKey string) []*AppToken {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var tokens []*AppToken
	for _, appToken := range tr.byHash {
		if appToken.AppKey == appKey {
			tokens = append(tokens, appToken)
		}
	}
	return tokens
}

// CleanupExpired removes expired tokens and returns how many were dropped
func (tr *TokenRegistry) CleanupExpired() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	removed := 0
	for hash, appToken := range tr.byHash {
		if appToken.ExpiresAt != nil && now.After(*appToken.ExpiresAt) {
			delete(tr.byHash, hash)
			removed++
		}
	}
	return removed
}
