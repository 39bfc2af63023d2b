package core

import (
	"fmt"
	"strings"
	"time"
)

// QuotaUnused marks a quota that was never observed; it outranks any finite count
const QuotaUnused = -1

// Tier is the capability tier of an account token
type Tier string

const (
	TierStandard Tier = "standard"
	TierElevated Tier = "elevated"
)

// ParseTier converts a string into a Tier
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierStandard:
		return TierStandard, nil
	case TierElevated:
		return TierElevated, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// TokenStatus is the health state of an account token
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
)

// Capability is a class of upstream operation with its own quota counter
type Capability string

const (
	CapabilityStandard Capability = "standard"
	CapabilityHeavy    Capability = "heavy"
)

// ParseCapability converts a string into a Capability; empty means standard
func ParseCapability(s string) (Capability, error) {
	switch Capability(strings.ToLower(strings.TrimSpace(s))) {
	case "", CapabilityStandard:
		return CapabilityStandard, nil
	case CapabilityHeavy:
		return CapabilityHeavy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCapability, s)
}

// ElevatedOnly reports whether only elevated-tier tokens may serve the capability
func (c Capability) ElevatedOnly() bool {
	return c == CapabilityHeavy
}

// Token is one account token in the pool
type Token struct {
	ID                string             `json:"id"`
	Raw               string             `json:"raw"`
	Tier              Tier               `json:"tier"`
	Status            TokenStatus        `json:"status"`
	Quotas            map[Capability]int `json:"quotas,omitempty"`
	FailureCount      int                `json:"failure_count"`
	LastFailureTime   *time.Time         `json:"last_failure_time,omitempty"`
	LastFailureReason string             `json:"last_failure_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// NewToken builds an active token record from its raw cookie form or bare ID
func NewToken(raw string, tier Tier, now time.Time) (Token, error) {
	id := ParseTokenID(raw)
	if id == "" {
		return Token{}, ErrInvalidToken
	}
	if !strings.Contains(raw, "=") {
		raw = TokenCookie(id)
	}
	return Token{
		ID:        id,
		Raw:       raw,
		Tier:      tier,
		Status:    TokenStatusActive,
		Quotas:    map[Capability]int{},
		CreatedAt: now,
	}, nil
}

// Remaining returns the quota left for a capability, QuotaUnused when never set
func (t Token) Remaining(c Capability) int {
	if v, ok := t.Quotas[c]; ok {
		return v
	}
	return QuotaUnused
}

// Usable reports whether the token may serve a capability right now
func (t Token) Usable(c Capability) bool {
	if t.Status != TokenStatusActive {
		return false
	}
	r := t.Remaining(c)
	return r == QuotaUnused || r > 0
}

// Clone returns a copy that does not share the quota map
func (t Token) Clone() Token {
	out := t
	out.Quotas = make(map[Capability]int, len(t.Quotas))
	for k, v := range t.Quotas {
		out.Quotas[k] = v
	}
	if t.LastFailureTime != nil {
		ts := *t.LastFailureTime
		out.LastFailureTime = &ts
	}
	return out
}

// ParseTokenID extracts the account ID from a raw token such as "sso-rw=a;sso=b".
// A raw value without any cookie pairs is the ID itself.
func ParseTokenID(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "=") {
		return raw
	}
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && key == "sso" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// TokenCookie builds the raw cookie form of an account ID
func TokenCookie(id string) string {
	return "sso-rw=" + id + ";sso=" + id
}

// AssembleCookie builds the outbound Cookie header from a token and the clearance pair
func AssembleCookie(tokenRaw, clearance string) string {
	if clearance == "" {
		return tokenRaw
	}
	return tokenRaw + "; " + clearance
}
