package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager manages registration tokens for new agents
type TokenManager struct {
	tokens map[string]*RegistrationToken
	mu     sync.RWMutex
}

// RegistrationToken allows an agent to register with the farm
type RegistrationToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*RegistrationToken),
	}
}

// GenerateToken generates a new registration token
func (tm *TokenManager) GenerateToken(duration time.Duration) (*RegistrationToken, error) {
	// Generate a random token
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	token := hex.EncodeToString(bytes)

	rt := &RegistrationToken{
		Token:     token,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[token] = rt
	tm.mu.Unlock()

	return rt, nil
}

// ValidateToken validates a registration token
func (tm *TokenManager) ValidateToken(token string) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	rt, exists := tm.tokens[token]
	if !exists {
		return fmt.Errorf("invalid token")
	}

	if time.Now().After(rt.ExpiresAt) {
		return fmt.Errorf("token expired")
	}

	return nil
}

// RevokeToken removes a token
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.tokens, token)
}
