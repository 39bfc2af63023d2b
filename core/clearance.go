package core

import "time"

// DefaultClearanceTTL is how long a clearance credential is trusted without re-probing
const DefaultClearanceTTL = time.Hour

// Credential is the clearance artifact proving a bot-verification challenge was passed.
// Values are never mutated in place; a refresh replaces the whole value.
type Credential struct {
	Value    string        // Cookie pair attached to outbound calls, e.g. "cf_clearance=..."
	IssuedAt time.Time     // When the credential was last confirmed good
	TTL      time.Duration // Validity window starting at IssuedAt
}

// ValidAt reports whether the credential is still inside its validity window.
// A credential is invalid exactly at IssuedAt+TTL.
func (c *Credential) ValidAt(now time.Time) bool {
	if c == nil || c.IssuedAt.IsZero() {
		return false
	}
	return now.Sub(c.IssuedAt) < c.TTL
}

// RefreshOutcome describes how an EnsureValid call was satisfied
type RefreshOutcome int

const (
	OutcomeDisabled    RefreshOutcome = iota // feature off, nothing done
	OutcomeCacheValid                        // cached credential still valid
	OutcomeNoChallenge                       // probe saw no challenge, solver skipped
	OutcomeRefreshed                         // solver produced a new credential
	OutcomeFailed                            // refresh attempted and failed
)

// Succeeded reports whether the outcome leaves the caller able to proceed
func (o RefreshOutcome) Succeeded() bool {
	return o != OutcomeFailed
}

func (o RefreshOutcome) String() string {
	switch o {
	case OutcomeDisabled:
		return "disabled"
	case OutcomeCacheValid:
		return "cache_valid"
	case OutcomeNoChallenge:
		return "no_challenge"
	case OutcomeRefreshed:
		return "refreshed"
	default:
		return "failed"
	}
}

// ClearanceCounters are the raw counters kept by the clearance cache
type ClearanceCounters struct {
	TotalChecks    int64 `json:"total_checks"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	SolverSuccess  int64 `json:"solver_success"`
	SolverFailures int64 `json:"solver_failures"`
}

// ClearanceStats is the read-only status snapshot exposed to operators
type ClearanceStats struct {
	Enabled    bool              `json:"enabled"`
	CacheValid bool              `json:"cache_valid"`
	Counters   ClearanceCounters `json:"stats"`
	HitRate    float64           `json:"hit_rate"`
}
