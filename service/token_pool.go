package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

// DefaultFailureThreshold is how many token-invalid denials retire a token
const DefaultFailureThreshold = 3

// ChallengeNotifier is told when a denial points at the egress rather than a token
type ChallengeNotifier interface {
	NotifyPossibleChallengeBlock(ctx context.Context) bool
}

// TierCounts summarises the pool per tier and status
type TierCounts map[core.Tier]map[core.TokenStatus]int

// TokenPool holds the account tokens and decides which one serves a request
type TokenPool struct {
	store     ports.TokenStore
	events    ports.EventPublisher
	notifier  ChallengeNotifier
	clock     clock.Clock
	logger    zerolog.Logger
	threshold int

	mu     sync.Mutex
	tokens map[string]*core.Token

	background sync.WaitGroup
}

// NewTokenPool creates an empty pool. events and notifier may be nil.
func NewTokenPool(
	store ports.TokenStore,
	events ports.EventPublisher,
	notifier ChallengeNotifier,
	clk clock.Clock,
	logger zerolog.Logger,
	threshold int,
) *TokenPool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &TokenPool{
		store:     store,
		events:    events,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
		threshold: threshold,
		tokens:    make(map[string]*core.Token),
	}
}

// SetNotifier wires the challenge notifier after construction
func (p *TokenPool) SetNotifier(n ChallengeNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

// Load replaces the in-memory records with the stored ones
func (p *TokenPool) Load(ctx context.Context) error {
	tokens, err := p.store.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokens = make(map[string]*core.Token, len(tokens))
	for _, t := range tokens {
		t := t.Clone()
		p.tokens[t.ID] = &t
	}
	p.logger.Info().Int("tokens", len(tokens)).Msg("token pool loaded")
	return nil
}

// Add registers a new token
func (p *TokenPool) Add(ctx context.Context, raw string, tier core.Tier) (core.Token, error) {
	token, err := core.NewToken(raw, tier, p.clock.Now())
	if err != nil {
		return core.Token{}, err
	}

	p.mu.Lock()
	if _, exists := p.tokens[token.ID]; exists {
		p.mu.Unlock()
		return core.Token{}, core.ErrTokenExists
	}
	stored := token.Clone()
	p.tokens[token.ID] = &stored
	p.mu.Unlock()

	p.persist(ctx, token)
	return token, nil
}

// List returns a copy of every token ordered by ID
func (p *TokenPool) List() []core.Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.Token, 0, len(p.tokens))
	for _, t := range p.tokens {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a token by ID
func (p *TokenPool) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	if _, exists := p.tokens[id]; !exists {
		p.mu.Unlock()
		return core.ErrTokenNotFound
	}
	delete(p.tokens, id)
	p.mu.Unlock()

	if err := p.store.DeleteToken(ctx, id); err != nil {
		p.logger.Warn().Err(err).Str("token", id).Msg("failed to delete stored token")
	}
	return nil
}

// Select returns the best token for a capability. Tokens that were never used
// rank first, then by descending remaining quota, then by ascending ID.
func (p *TokenPool) Select(capability core.Capability) (core.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if capability.ElevatedOnly() {
		if t := p.best(core.TierElevated, capability); t != nil {
			return t.Clone(), nil
		}
		return core.Token{}, core.ErrNoTokenAvailable
	}

	if t := p.best(core.TierStandard, capability); t != nil {
		return t.Clone(), nil
	}
	if t := p.best(core.TierElevated, capability); t != nil {
		return t.Clone(), nil
	}
	return core.Token{}, core.ErrNoTokenAvailable
}

func (p *TokenPool) best(tier core.Tier, capability core.Capability) *core.Token {
	var best *core.Token
	for _, t := range p.tokens {
		if t.Tier != tier || !t.Usable(capability) {
			continue
		}
		if best == nil || outranks(t, best, capability) {
			best = t
		}
	}
	return best
}

func outranks(a, b *core.Token, capability core.Capability) bool {
	ra, rb := a.Remaining(capability), b.Remaining(capability)
	switch {
	case ra == core.QuotaUnused && rb != core.QuotaUnused:
		return true
	case rb == core.QuotaUnused && ra != core.QuotaUnused:
		return false
	case ra != rb:
		return ra > rb
	default:
		return a.ID < b.ID
	}
}

// RecordFailure books an upstream failure against a token.
// 401 counts toward expiry; 403 leaves the token alone and reports a possible
// challenge block in the background; anything else only records time and reason.
func (p *TokenPool) RecordFailure(ctx context.Context, raw string, status int, reason string) error {
	if status == http.StatusForbidden {
		p.notifyChallenge(ctx)
		return nil
	}

	id := core.ParseTokenID(raw)

	p.mu.Lock()
	t, ok := p.tokens[id]
	if !ok {
		p.mu.Unlock()
		return core.ErrTokenNotFound
	}

	now := p.clock.Now()
	t.LastFailureTime = &now
	t.LastFailureReason = reason

	expired := false
	if status == http.StatusUnauthorized {
		t.FailureCount++
		if t.FailureCount >= p.threshold && t.Status != core.TokenStatusExpired {
			t.Status = core.TokenStatusExpired
			expired = true
		}
	}
	snapshot := t.Clone()
	p.mu.Unlock()

	p.logger.Warn().Str("token", id).Int("status", status).Int("failures", snapshot.FailureCount).Str("reason", reason).Msg("token failure recorded")
	p.persist(ctx, snapshot)

	if expired {
		p.logger.Warn().Str("token", id).Msg("token expired")
		if p.events != nil {
			if err := p.events.PublishTokenExpired(ctx, id, reason); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish token expiry")
			}
		}
	}
	return nil
}

// RecordDenial books a classified upstream denial for the capability that was requested
func (p *TokenPool) RecordDenial(ctx context.Context, raw string, capability core.Capability, denial *core.DenialError) error {
	if denial.Kind == core.DenialRateLimited {
		if err := p.UpdateQuota(ctx, raw, capability, 0); err != nil {
			return err
		}
	}
	return p.RecordFailure(ctx, raw, denial.Kind.StatusCode(denial.StatusCode), denial.Kind.Reason())
}

// ResetFailure clears the failure history of a token without touching its status
func (p *TokenPool) ResetFailure(ctx context.Context, raw string) error {
	id := core.ParseTokenID(raw)

	p.mu.Lock()
	t, ok := p.tokens[id]
	if !ok {
		p.mu.Unlock()
		return core.ErrTokenNotFound
	}
	t.FailureCount = 0
	t.LastFailureTime = nil
	t.LastFailureReason = ""
	snapshot := t.Clone()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return nil
}

// Consume decrements a finite quota after a successful call
func (p *TokenPool) Consume(ctx context.Context, id string, capability core.Capability) {
	p.mu.Lock()
	t, ok := p.tokens[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	remaining := t.Remaining(capability)
	if remaining <= 0 {
		p.mu.Unlock()
		return
	}
	t.Quotas[capability] = remaining - 1
	snapshot := t.Clone()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
}

// UpdateQuota records the remaining quota reported for a capability
func (p *TokenPool) UpdateQuota(ctx context.Context, raw string, capability core.Capability, remaining int) error {
	id := core.ParseTokenID(raw)

	p.mu.Lock()
	t, ok := p.tokens[id]
	if !ok {
		p.mu.Unlock()
		return core.ErrTokenNotFound
	}
	if t.Quotas == nil {
		t.Quotas = make(map[core.Capability]int)
	}
	t.Quotas[capability] = remaining
	snapshot := t.Clone()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return nil
}

// Counts returns the number of tokens per tier and status
func (p *TokenPool) Counts() TierCounts {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := TierCounts{
		core.TierStandard: {core.TokenStatusActive: 0, core.TokenStatusExpired: 0},
		core.TierElevated: {core.TokenStatusActive: 0, core.TokenStatusExpired: 0},
	}
	for _, t := range p.tokens {
		if _, ok := counts[t.Tier]; ok {
			counts[t.Tier][t.Status]++
		}
	}
	return counts
}

// Wait blocks until background challenge notifications have finished
func (p *TokenPool) Wait() {
	p.background.Wait()
}

func (p *TokenPool) notifyChallenge(ctx context.Context) {
	p.mu.Lock()
	notifier := p.notifier
	p.mu.Unlock()
	if notifier == nil {
		return
	}

	p.logger.Warn().Msg("possible challenge block, forcing clearance refresh")
	ctx = context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		notifier.NotifyPossibleChallengeBlock(ctx)
	}()
}

func (p *TokenPool) persist(ctx context.Context, t core.Token) {
	if err := p.store.SaveToken(ctx, t); err != nil {
		p.logger.Warn().Err(err).Str("token", t.ID).Msg("failed to persist token")
	}
}
