package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/redis/go-redis/v9"
)

var (
	_ ports.TokenStore      = (*RedisStore)(nil)
	_ ports.CredentialStore = (*RedisStore)(nil)
)

// RedisStore is a Redis implementation of the token and credential stores.
// Tokens live in one hash keyed by token ID; the credential is a single key
// that expires together with its validity window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type storedCredential struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
	TTL      int64     `json:"ttl_seconds"`
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "clearway:",
	}
}

func (s *RedisStore) tokensKey() string {
	return s.prefix + "tokens"
}

func (s *RedisStore) credentialKey() string {
	return s.prefix + "clearance"
}

// LoadTokens reads every token record from Redis ordered by ID
func (s *RedisStore) LoadTokens(ctx context.Context) ([]core.Token, error) {
	entries, err := s.client.HGetAll(ctx, s.tokensKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	tokens := make([]core.Token, 0, len(entries))
	for id, raw := range entries {
		var t core.Token
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to decode token %s: %w", id, err)
		}
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })

	return tokens, nil
}

// SaveToken writes a token record to Redis
func (s *RedisStore) SaveToken(ctx context.Context, token core.Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := s.client.HSet(ctx, s.tokensKey(), token.ID, payload).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// DeleteToken removes a token record from Redis
func (s *RedisStore) DeleteToken(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, s.tokensKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if removed == 0 {
		return core.ErrTokenNotFound
	}

	return nil
}

// SaveCredential stores the clearance credential until its validity window closes
func (s *RedisStore) SaveCredential(ctx context.Context, cred core.Credential) error {
	payload, err := json.Marshal(storedCredential{
		Value:    cred.Value,
		IssuedAt: cred.IssuedAt,
		TTL:      int64(cred.TTL / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	expiry := time.Until(cred.IssuedAt.Add(cred.TTL))
	if expiry <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.credentialKey(), payload, expiry).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// LoadCredential reads the clearance credential from Redis
func (s *RedisStore) LoadCredential(ctx context.Context) (core.Credential, error) {
	raw, err := s.client.Get(ctx, s.credentialKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	var stored storedCredential
	if err := json.Unmarshal(raw, &stored); err != nil {
		return core.Credential{}, fmt.Errorf("failed to decode credential: %w", err)
	}

	return core.Credential{
		Value:    stored.Value,
		IssuedAt: stored.IssuedAt,
		TTL:      time.Duration(stored.TTL) * time.Second,
	}, nil
}
