package store

import (
	"context"
	"sort"
	"sync"

	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

var (
	_ ports.TokenStore      = (*MemoryStore)(nil)
	_ ports.CredentialStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory implementation of the token and credential stores
type MemoryStore struct {
	tokens     map[string]core.Token
	credential *core.Credential
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]core.Token),
	}
}

// LoadTokens returns every stored token ordered by ID
func (s *MemoryStore) LoadTokens(ctx context.Context) ([]core.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// SaveToken inserts or replaces a token record
func (s *MemoryStore) SaveToken(ctx context.Context, token core.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.ID] = token.Clone()
	return nil
}

// DeleteToken removes a token record
func (s *MemoryStore) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[id]; !exists {
		return core.ErrTokenNotFound
	}
	delete(s.tokens, id)
	return nil
}

// SaveCredential replaces the stored clearance credential
func (s *MemoryStore) SaveCredential(ctx context.Context, cred core.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = &cred
	return nil
}

// LoadCredential returns the stored clearance credential
func (s *MemoryStore) LoadCredential(ctx context.Context) (core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.credential == nil {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	return *s.credential, nil
}
