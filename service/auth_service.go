package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
)

// DefaultAPITokenTTL is how long an issued API token stays valid
const DefaultAPITokenTTL = 30 * 24 * time.Hour

// AuthService issues and validates bearer tokens for operators and relay clients
type AuthService struct {
	tokenizer ports.Tokenizer
	clock     clock.Clock
}

// NewAuthService creates a new authentication service
func NewAuthService(tokenizer ports.Tokenizer, clk clock.Clock) *AuthService {
	return &AuthService{
		tokenizer: tokenizer,
		clock:     clk,
	}
}

// IssueToken creates an API token for subject with the given role
func (s *AuthService) IssueToken(subject string, role core.Role, ttl time.Duration) (string, error) {
	if role != core.RoleOperator && role != core.RoleClient {
		return "", fmt.Errorf("unknown role %q: %w", role, core.ErrInvalidAudience)
	}
	if ttl <= 0 {
		ttl = DefaultAPITokenTTL
	}

	now := s.clock.Now()
	principal := &core.Principal{
		ID:        uuid.New().String(),
		Subject:   subject,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	token, err := s.tokenizer.PrincipalToToken(principal)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

// Authenticate validates a bearer token for the given role. Operators are
// accepted wherever a client is.
func (s *AuthService) Authenticate(ctx context.Context, token string, role core.Role) (*core.Principal, error) {
	principal, err := s.tokenizer.TokenToPrincipal(token, role)
	if err == core.ErrInvalidAudience && role == core.RoleClient {
		principal, err = s.tokenizer.TokenToPrincipal(token, core.RoleOperator)
	}
	if err != nil {
		return nil, err
	}

	if s.clock.Now().After(principal.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	return principal, nil
}
