package ports

import "context"

// ChallengeSolver obtains a fresh clearance credential for a URL.
// Solving is slow and may take minutes; any failure is returned as an error.
type ChallengeSolver interface {
	Solve(ctx context.Context, url string) (string, error)
}

// ChallengeProber checks whether the upstream currently serves a challenge
type ChallengeProber interface {
	Probe(ctx context.Context) (bool, error)
}
