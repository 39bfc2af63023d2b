package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

// Clearance is the part of ClearanceService the request path depends on
type Clearance interface {
	EnsureValid(ctx context.Context, force bool) bool
	Current() string
	Reroute(ctx context.Context) error
}

// GatewayService serves relay requests: it picks a token, attaches the
// clearance, calls the upstream and books the outcome.
type GatewayService struct {
	pool      *TokenPool
	clearance Clearance
	upstream  ports.Upstream
	relay     *StreamRelay
	logger    zerolog.Logger

	background sync.WaitGroup
}

// NewGatewayService creates a new gateway service
func NewGatewayService(pool *TokenPool, clearance Clearance, upstream ports.Upstream, relay *StreamRelay, logger zerolog.Logger) *GatewayService {
	return &GatewayService{
		pool:      pool,
		clearance: clearance,
		upstream:  upstream,
		relay:     relay,
		logger:    logger,
	}
}

// Relay opens an upstream call for capability and returns its units.
// A refused call comes back as *core.DenialError after being booked against the token.
func (g *GatewayService) Relay(ctx context.Context, capability core.Capability, payload []byte, alive LivenessProbe) (iter.Seq2[[]byte, error], error) {
	if !g.clearance.EnsureValid(ctx, false) {
		g.logger.Warn().Msg("clearance unavailable, calling upstream without a fresh one")
	}

	token, err := g.pool.Select(capability)
	if err != nil {
		return nil, err
	}

	cookie := core.AssembleCookie(token.Raw, g.clearance.Current())
	src, err := g.upstream.Open(ctx, cookie, payload)
	if err != nil {
		var denial *core.DenialError
		if errors.As(err, &denial) {
			g.logger.Warn().Str("token", token.ID).Int("status", denial.StatusCode).Str("kind", denial.Kind.String()).Msg("upstream denied request")
			if recErr := g.pool.RecordDenial(ctx, token.Raw, capability, denial); recErr != nil {
				g.logger.Warn().Err(recErr).Msg("failed to record denial")
			}
			return nil, denial
		}

		if core.IsTLSFailure(err) {
			g.logger.Warn().Err(err).Msg("tls failure on upstream call, rerouting egress")
			g.background.Add(1)
			go func() {
				defer g.background.Done()
				if err := g.clearance.Reroute(context.WithoutCancel(ctx)); err != nil {
					g.logger.Error().Err(err).Msg("reroute failed")
				}
			}()
		}
		return nil, fmt.Errorf("failed to open upstream call: %w", err)
	}

	g.pool.Consume(ctx, token.ID, capability)
	return g.relay.Relay(ctx, src, alive), nil
}

// Wait blocks until background reroutes have finished
func (g *GatewayService) Wait() {
	g.background.Wait()
}
