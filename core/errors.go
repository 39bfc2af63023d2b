package core

import (
	"errors"
	"fmt"
)

var (
	ErrSolverFailed            = errors.New("challenge solver failed")
	ErrNodesExhausted          = errors.New("no egress node left to try")
	ErrSwitchFailed            = errors.New("egress node switch failed")
	ErrRotationBudgetExhausted = errors.New("rotation attempts exhausted")
	ErrProbeFailed             = errors.New("challenge probe failed")
	ErrEgressUnavailable       = errors.New("egress controller unavailable")

	ErrNoTokenAvailable  = errors.New("no token available")
	ErrTokenNotFound     = errors.New("token not found")
	ErrTokenExists       = errors.New("token already exists")
	ErrInvalidTier       = errors.New("invalid token tier")
	ErrInvalidCapability = errors.New("invalid capability")

	ErrCredentialNotFound = errors.New("credential not found")

	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrRefreshThrottled = errors.New("refresh throttled")

	ErrRelayConsumed = errors.New("relay stream already consumed")
)

// DenialError is returned by the request path when the upstream refuses a call.
type DenialError struct {
	StatusCode int
	Kind       DenialKind
	Message    string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("upstream denied request (%d, %s): %s", e.StatusCode, e.Kind, e.Message)
}
