package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/ports"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRotationAttempts is the solve budget of one rotated refresh
	DefaultMaxRotationAttempts = 3
	// DefaultRotationDelay is the pause after switching before the next solve
	DefaultRotationDelay = 2 * time.Second
)

// SolveFunc performs one solve attempt over the current egress node
type SolveFunc func(ctx context.Context) (string, error)

// NodeRotator retries solving across egress nodes, blacklisting nodes that fail.
// It is not safe for concurrent use; ClearanceService only calls it while
// holding its refresh slot.
type NodeRotator struct {
	egress      ports.EgressController
	events      ports.EventPublisher
	clock       clock.Clock
	logger      zerolog.Logger
	maxAttempts int
	delay       time.Duration

	blacklist map[string]struct{}
	baseline  []string
	observed  bool
}

// NewNodeRotator creates a rotator. A non-positive maxAttempts falls back to
// DefaultMaxRotationAttempts; events may be nil.
func NewNodeRotator(
	egress ports.EgressController,
	events ports.EventPublisher,
	clk clock.Clock,
	logger zerolog.Logger,
	maxAttempts int,
	delay time.Duration,
) *NodeRotator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRotationAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return &NodeRotator{
		egress:      egress,
		events:      events,
		clock:       clk,
		logger:      logger,
		maxAttempts: maxAttempts,
		delay:       delay,
		blacklist:   make(map[string]struct{}),
	}
}

// Acquire runs solve until it yields a value, moving to the best remaining node
// after every failed attempt.
func (r *NodeRotator) Acquire(ctx context.Context, solve SolveFunc) (string, error) {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		active := r.activeNode(ctx)
		r.logger.Info().Int("attempt", attempt).Int("max_attempts", r.maxAttempts).Str("node", active).Msg("solving challenge")

		value, err := solve(ctx)
		if err == nil && value != "" {
			return value, nil
		}
		if err == nil {
			err = core.ErrSolverFailed
		}
		r.logger.Warn().Err(err).Str("node", active).Msg("solve attempt failed")

		if active != "" {
			r.blacklist[active] = struct{}{}
			r.logger.Warn().Str("node", active).Msg("node blacklisted")
		}

		if _, _, err := r.switchToBest(ctx); err != nil {
			return "", err
		}

		if attempt < r.maxAttempts && r.delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-r.clock.After(r.delay):
			}
		}
	}

	return "", core.ErrRotationBudgetExhausted
}

// SwitchToBest moves traffic to the best non-blacklisted node without
// blacklisting the current one. It returns the previous and the selected node.
func (r *NodeRotator) SwitchToBest(ctx context.Context) (string, string, error) {
	return r.switchToBest(ctx)
}

// Blacklisted reports whether a node is currently excluded from selection
func (r *NodeRotator) Blacklisted(node string) bool {
	_, ok := r.blacklist[node]
	return ok
}

func (r *NodeRotator) activeNode(ctx context.Context) string {
	status, err := r.egress.GroupStatus(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to read active node")
		return ""
	}
	return status.Active
}

func (r *NodeRotator) switchToBest(ctx context.Context) (string, string, error) {
	status, err := r.egress.GroupStatus(ctx)
	if err != nil || len(status.Candidates) == 0 {
		// Without a fresh candidate list the last baseline stands
		r.logger.Warn().Err(err).Msg("candidate list unavailable, keeping baseline")
		status.Candidates = r.baseline
	} else {
		r.observe(status.Candidates)
	}

	best, err := r.selectBest(ctx, status.Candidates)
	if err != nil {
		return status.Active, "", err
	}

	if best == status.Active {
		r.logger.Info().Str("node", best).Msg("already on best node")
		return status.Active, best, nil
	}

	if err := r.egress.SwitchTo(ctx, best); err != nil {
		return status.Active, "", fmt.Errorf("%w: %v", core.ErrSwitchFailed, err)
	}
	r.logger.Info().Str("from", status.Active).Str("to", best).Msg("egress node switched")

	if r.events != nil {
		if err := r.events.PublishEgressSwitched(ctx, status.Active, best); err != nil {
			r.logger.Warn().Err(err).Msg("failed to publish egress switch")
		}
	}

	return status.Active, best, nil
}

// observe compares candidates with the baseline and clears the blacklist when
// the membership changed. The first observation only adopts the baseline.
func (r *NodeRotator) observe(candidates []string) {
	if !r.observed {
		r.observed = true
		r.baseline = append([]string(nil), candidates...)
		r.pruneBlacklist()
		return
	}
	if core.SameMembership(r.baseline, candidates) {
		return
	}

	r.logger.Info().Strs("previous", r.baseline).Strs("current", candidates).Msg("candidate set changed, clearing blacklist")
	r.baseline = append([]string(nil), candidates...)
	r.blacklist = make(map[string]struct{})
}

func (r *NodeRotator) pruneBlacklist() {
	known := make(map[string]struct{}, len(r.baseline))
	for _, n := range r.baseline {
		known[n] = struct{}{}
	}
	for n := range r.blacklist {
		if _, ok := known[n]; !ok {
			delete(r.blacklist, n)
		}
	}
}

// selectBest picks the lowest positive latency among non-blacklisted nodes,
// falling back to the first non-blacklisted node in controller order.
func (r *NodeRotator) selectBest(ctx context.Context, candidates []string) (string, error) {
	available := make([]string, 0, len(candidates))
	for _, n := range candidates {
		if _, banned := r.blacklist[n]; !banned {
			available = append(available, n)
		}
	}
	if len(available) == 0 {
		return "", core.ErrNodesExhausted
	}

	samples, err := r.egress.LatencySamples(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("latency samples unavailable")
	}

	nodes := make([]core.EgressNode, 0, len(available))
	for _, n := range available {
		delay, ok := samples[n]
		nodes = append(nodes, core.EgressNode{Name: n, Latency: delay, HasLatency: ok && delay > 0})
	}
	return core.BestNode(nodes).Name, nil
}
