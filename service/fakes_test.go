package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/clearway/core"
)

type fakeSolver struct {
	mu      sync.Mutex
	results []solveResult
	calls   atomic.Int32
	gate    chan struct{} // when set, Solve blocks until it is closed
	nodes   []string      // egress node active at each call, when egress is set
	egress  *fakeEgress
}

type solveResult struct {
	value string
	err   error
	panic bool
}

func (s *fakeSolver) Solve(ctx context.Context, url string) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	if s.egress != nil {
		s.nodes = append(s.nodes, s.egress.activeNode())
	}
	var r solveResult
	if len(s.results) > 0 {
		if n >= len(s.results) {
			n = len(s.results) - 1
		}
		r = s.results[n]
	}
	s.mu.Unlock()

	if r.panic {
		panic("solver exploded")
	}
	return r.value, r.err
}

type fakeProber struct {
	challenged bool
	err        error
	calls      atomic.Int32
}

func (p *fakeProber) Probe(ctx context.Context) (bool, error) {
	p.calls.Add(1)
	return p.challenged, p.err
}

type fakeEgress struct {
	mu          sync.Mutex
	active      string
	candidates  []string
	latency     map[string]time.Duration
	statusErr   error
	switchErr   error
	switches    []string
	statusCalls int
}

func (e *fakeEgress) GroupStatus(ctx context.Context) (core.GroupStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusCalls++
	if e.statusErr != nil {
		return core.GroupStatus{}, e.statusErr
	}
	return core.GroupStatus{Active: e.active, Candidates: append([]string(nil), e.candidates...)}, nil
}

func (e *fakeEgress) LatencySamples(ctx context.Context) (map[string]time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Duration, len(e.latency))
	for k, v := range e.latency {
		out[k] = v
	}
	return out, nil
}

func (e *fakeEgress) SwitchTo(ctx context.Context, node string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.switchErr != nil {
		return e.switchErr
	}
	e.switches = append(e.switches, node)
	e.active = node
	return nil
}

func (e *fakeEgress) activeNode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *fakeEgress) switched() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.switches...)
}

type fakeEvents struct {
	mu        sync.Mutex
	expired   []string
	refreshed []time.Time
	switched  [][2]string
}

func (e *fakeEvents) PublishTokenExpired(ctx context.Context, tokenID string, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, tokenID)
	return nil
}

func (e *fakeEvents) PublishClearanceRefreshed(ctx context.Context, issuedAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshed = append(e.refreshed, issuedAt)
	return nil
}

func (e *fakeEvents) PublishEgressSwitched(ctx context.Context, from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switched = append(e.switched, [2]string{from, to})
	return nil
}

type fakeNotifier struct {
	calls atomic.Int32
}

func (n *fakeNotifier) NotifyPossibleChallengeBlock(ctx context.Context) bool {
	n.calls.Add(1)
	return true
}

type fakeSource struct {
	units  [][]byte
	err    error // returned after the units instead of io.EOF
	next   int
	closes atomic.Int32
	reads  atomic.Int32
}

func newFakeSource(units ...string) *fakeSource {
	s := &fakeSource{}
	for _, u := range units {
		s.units = append(s.units, []byte(u))
	}
	return s
}

func (s *fakeSource) Next(ctx context.Context) ([]byte, error) {
	s.reads.Add(1)
	if s.next >= len(s.units) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	u := s.units[s.next]
	s.next++
	return u, nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeAssets struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (a *fakeAssets) Fetch(ctx context.Context, ref string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs = append(a.refs, ref)
	if a.err != nil {
		return "", a.err
	}
	return "/data/assets/" + ref, nil
}

func (a *fakeAssets) fetched() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.refs...)
}

var errBoom = errors.New("boom")
