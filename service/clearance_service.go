package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

// ClearanceConfig holds the clearance cache settings
type ClearanceConfig struct {
	Enabled      bool
	TTL          time.Duration
	TargetURL    string // URL the solver is asked to clear
	ProbeTimeout time.Duration
	SolveTimeout time.Duration
}

// ClearanceService keeps the single shared clearance credential valid.
// At most one refresh runs at a time; callers that find a valid credential
// never wait for it.
type ClearanceService struct {
	cfg     ClearanceConfig
	solver  ports.ChallengeSolver
	prober  ports.ChallengeProber
	rotator *NodeRotator
	store   ports.CredentialStore
	events  ports.EventPublisher
	clock   clock.Clock
	logger  zerolog.Logger

	slot chan struct{}
	cred atomic.Pointer[core.Credential]

	totalChecks    atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	solverSuccess  atomic.Int64
	solverFailures atomic.Int64
}

// NewClearanceService creates a new clearance service. rotator, store and events
// are optional; a nil rotator means a refresh makes a single solve attempt.
func NewClearanceService(
	cfg ClearanceConfig,
	solver ports.ChallengeSolver,
	prober ports.ChallengeProber,
	rotator *NodeRotator,
	store ports.CredentialStore,
	events ports.EventPublisher,
	clk clock.Clock,
	logger zerolog.Logger,
) *ClearanceService {
	if cfg.TTL <= 0 {
		cfg.TTL = core.DefaultClearanceTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = 120 * time.Second
	}
	return &ClearanceService{
		cfg:     cfg,
		solver:  solver,
		prober:  prober,
		rotator: rotator,
		store:   store,
		events:  events,
		clock:   clk,
		logger:  logger,
		slot:    make(chan struct{}, 1),
	}
}

// Restore loads a persisted credential so a restart does not force a solve
func (s *ClearanceService) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	cred, err := s.store.LoadCredential(ctx)
	if errors.Is(err, core.ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore clearance: %w", err)
	}
	cred.TTL = s.cfg.TTL
	s.cred.Store(&cred)
	s.logger.Info().Time("issued_at", cred.IssuedAt).Bool("valid", cred.ValidAt(s.clock.Now())).Msg("clearance restored")
	return nil
}

// EnsureValid makes sure the credential is fresh, refreshing it when needed.
// force skips both the enabled switch and the cache check.
func (s *ClearanceService) EnsureValid(ctx context.Context, force bool) bool {
	outcome, err := s.Ensure(ctx, force)
	if err != nil {
		s.logger.Error().Err(err).Bool("force", force).Msg("clearance refresh failed")
	}
	return outcome.Succeeded()
}

// Ensure is EnsureValid with the outcome and the collaborator error exposed
func (s *ClearanceService) Ensure(ctx context.Context, force bool) (core.RefreshOutcome, error) {
	if !force && !s.cfg.Enabled {
		return core.OutcomeDisabled, nil
	}

	s.totalChecks.Add(1)
	if !force && s.valid() {
		s.cacheHits.Add(1)
		return core.OutcomeCacheValid, nil
	}
	s.cacheMisses.Add(1)

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return core.OutcomeFailed, fmt.Errorf("waiting for refresh slot: %w", ctx.Err())
	}
	defer func() { <-s.slot }()

	// Another caller may have refreshed while we waited
	if !force && s.valid() {
		return core.OutcomeCacheValid, nil
	}

	// The refresh outlives this caller; probe and solve keep their own timeouts
	outcome, err := s.refresh(context.WithoutCancel(ctx))
	if err != nil {
		s.solverFailures.Add(1)
		return core.OutcomeFailed, err
	}
	s.solverSuccess.Add(1)
	return outcome, nil
}

func (s *ClearanceService) refresh(ctx context.Context) (outcome core.RefreshOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome, err = core.OutcomeFailed, fmt.Errorf("%w: panic: %v", core.ErrSolverFailed, p)
		}
	}()

	if !s.challenged(ctx) {
		s.logger.Info().Msg("no challenge detected, skipping solve")
		s.stamp(ctx, s.Current())
		return core.OutcomeNoChallenge, nil
	}

	var value string
	if s.rotator == nil {
		value, err = s.solveOnce(ctx)
		if err == nil && value == "" {
			err = core.ErrSolverFailed
		}
	} else {
		value, err = s.rotator.Acquire(ctx, s.solveOnce)
	}
	if err != nil {
		return core.OutcomeFailed, err
	}

	issued := s.stamp(ctx, value)
	s.logger.Info().Time("issued_at", issued).Msg("clearance refreshed")

	if s.events != nil {
		if err := s.events.PublishClearanceRefreshed(ctx, issued); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish clearance refresh")
		}
	}

	return core.OutcomeRefreshed, nil
}

func (s *ClearanceService) challenged(ctx context.Context) bool {
	if s.prober == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	challenged, err := s.prober.Probe(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("probe failed, assuming challenge")
		return true
	}
	return challenged
}

func (s *ClearanceService) solveOnce(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SolveTimeout)
	defer cancel()

	value, err := s.solver.Solve(ctx, s.cfg.TargetURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrSolverFailed, err)
	}
	return value, nil
}

func (s *ClearanceService) stamp(ctx context.Context, value string) time.Time {
	cred := &core.Credential{Value: value, IssuedAt: s.clock.Now(), TTL: s.cfg.TTL}
	s.cred.Store(cred)

	if s.store != nil {
		if err := s.store.SaveCredential(ctx, *cred); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist clearance")
		}
	}
	return cred.IssuedAt
}

func (s *ClearanceService) valid() bool {
	return s.cred.Load().ValidAt(s.clock.Now())
}

// Current returns the clearance cookie pair, or "" when none was ever obtained
func (s *ClearanceService) Current() string {
	if cred := s.cred.Load(); cred != nil {
		return cred.Value
	}
	return ""
}

// Stats returns a snapshot of the cache state and counters
func (s *ClearanceService) Stats() core.ClearanceStats {
	counters := core.ClearanceCounters{
		TotalChecks:    s.totalChecks.Load(),
		CacheHits:      s.cacheHits.Load(),
		CacheMisses:    s.cacheMisses.Load(),
		SolverSuccess:  s.solverSuccess.Load(),
		SolverFailures: s.solverFailures.Load(),
	}
	return core.ClearanceStats{
		Enabled:    s.cfg.Enabled,
		CacheValid: s.valid(),
		Counters:   counters,
		HitRate:    float64(counters.CacheHits) / float64(max(counters.TotalChecks, 1)),
	}
}

// InitEgress moves traffic to the best egress node at startup
func (s *ClearanceService) InitEgress(ctx context.Context) error {
	if s.rotator == nil {
		return nil
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	from, to, err := s.rotator.SwitchToBest(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialise egress: %w", err)
	}
	s.logger.Info().Str("from", from).Str("to", to).Msg("egress initialised")
	return nil
}

// Reroute switches to the best egress node after a transport failure. It is a
// no-op while a refresh is running, since that refresh rotates nodes itself.
func (s *ClearanceService) Reroute(ctx context.Context) error {
	if s.rotator == nil {
		return nil
	}

	select {
	case s.slot <- struct{}{}:
	default:
		s.logger.Debug().Msg("refresh in progress, skipping reroute")
		return nil
	}
	defer func() { <-s.slot }()

	if _, _, err := s.rotator.SwitchToBest(ctx); err != nil {
		return fmt.Errorf("failed to reroute egress: %w", err)
	}
	return nil
}
