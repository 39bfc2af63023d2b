package service

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/clearway/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solveWith(solver *fakeSolver) SolveFunc {
	return func(ctx context.Context) (string, error) {
		return solver.Solve(ctx, "https://upstream.example")
	}
}

func newRotator(egress *fakeEgress, attempts int) *NodeRotator {
	return NewNodeRotator(egress, nil, clock.NewMock(), zerolog.Nop(), attempts, 0)
}

func TestAcquireFirstAttemptSucceeds(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B"}}
	solver := &fakeSolver{results: []solveResult{{value: "cf_clearance=x"}}}
	r := newRotator(egress, 3)

	value, err := r.Acquire(context.Background(), solveWith(solver))
	require.NoError(t, err)
	assert.Equal(t, "cf_clearance=x", value)
	assert.Empty(t, egress.switched())
	assert.False(t, r.Blacklisted("A"))
}

func TestAcquireRotatesToLowestLatency(t *testing.T) {
	egress := &fakeEgress{
		active:     "A",
		candidates: []string{"A", "B", "C"},
		latency:    map[string]time.Duration{"A": 10 * time.Millisecond, "B": 200 * time.Millisecond, "C": 90 * time.Millisecond},
	}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}, {value: "cf_clearance=x"}}, egress: egress}
	r := newRotator(egress, 3)

	value, err := r.Acquire(context.Background(), solveWith(solver))
	require.NoError(t, err)
	assert.Equal(t, "cf_clearance=x", value)
	assert.True(t, r.Blacklisted("A"))
	assert.Equal(t, []string{"C"}, egress.switched())
	assert.Equal(t, []string{"A", "C"}, solver.nodes)
}

func TestAcquireWithoutLatencyTakesFirstAvailable(t *testing.T) {
	egress := &fakeEgress{active: "B", candidates: []string{"A", "B", "C"}}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}, {value: "cf_clearance=x"}}}
	r := newRotator(egress, 3)

	_, err := r.Acquire(context.Background(), solveWith(solver))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, egress.switched())
}

func TestAcquireExhaustsNodes(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B"}}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}}}
	r := newRotator(egress, 5)

	_, err := r.Acquire(context.Background(), solveWith(solver))
	assert.ErrorIs(t, err, core.ErrNodesExhausted)
	assert.EqualValues(t, 2, solver.calls.Load())
	assert.Equal(t, []string{"B"}, egress.switched())
}

func TestAcquireBudgetExhausted(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B", "C", "D", "E"}}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}}}
	r := newRotator(egress, 3)

	_, err := r.Acquire(context.Background(), solveWith(solver))
	assert.ErrorIs(t, err, core.ErrRotationBudgetExhausted)
	assert.EqualValues(t, 3, solver.calls.Load())
	assert.Equal(t, []string{"B", "C", "D"}, egress.switched())
}

func TestAcquireSwitchFailure(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B"}, switchErr: errBoom}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}}}
	r := newRotator(egress, 3)

	_, err := r.Acquire(context.Background(), solveWith(solver))
	assert.ErrorIs(t, err, core.ErrSwitchFailed)
}

func TestMembershipChangeClearsBlacklist(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B", "C"}}
	r := newRotator(egress, 3)
	ctx := context.Background()

	r.blacklist["A"] = struct{}{}
	_, _, err := r.SwitchToBest(ctx)
	require.NoError(t, err)
	assert.True(t, r.Blacklisted("A"), "first observation adopts the baseline")

	egress.mu.Lock()
	egress.candidates = []string{"C", "B", "A"}
	egress.mu.Unlock()
	_, _, err = r.SwitchToBest(ctx)
	require.NoError(t, err)
	assert.True(t, r.Blacklisted("A"), "reordering keeps the blacklist")

	egress.mu.Lock()
	egress.candidates = []string{"A", "B", "D"}
	egress.mu.Unlock()
	_, _, err = r.SwitchToBest(ctx)
	require.NoError(t, err)
	assert.False(t, r.Blacklisted("A"), "new membership clears the blacklist")
}

func TestCandidateFetchFailureKeepsBaseline(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B"}}
	r := newRotator(egress, 3)
	ctx := context.Background()

	_, _, err := r.SwitchToBest(ctx)
	require.NoError(t, err)
	r.blacklist["A"] = struct{}{}

	egress.mu.Lock()
	egress.candidates = nil
	egress.mu.Unlock()
	_, to, err := r.SwitchToBest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", to)
	assert.True(t, r.Blacklisted("A"))
}

func TestAcquireWaitsBetweenAttempts(t *testing.T) {
	egress := &fakeEgress{active: "A", candidates: []string{"A", "B"}}
	solver := &fakeSolver{results: []solveResult{{err: errBoom}, {value: "cf_clearance=x"}}}
	clk := clock.NewMock()
	r := NewNodeRotator(egress, nil, clk, zerolog.Nop(), 3, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), solveWith(solver))
		done <- err
	}()

	require.Eventually(t, func() bool { return len(egress.switched()) == 1 }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, solver.calls.Load())

	// The mock clock only fires once the waiter is registered
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return solver.calls.Load() == 2
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, <-done)
}
