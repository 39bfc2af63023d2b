package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const clearanceFlight = "clearance"

// Refresher forces a clearance refresh
type Refresher interface {
	EnsureValid(ctx context.Context, force bool) bool
}

// FailureCoordinator collapses concurrent challenge-block reports into one
// forced refresh.
type FailureCoordinator struct {
	refresher Refresher
	group     singleflight.Group
	logger    zerolog.Logger

	flights   atomic.Int64
	coalesced atomic.Int64
}

// NewFailureCoordinator creates a new coordinator
func NewFailureCoordinator(refresher Refresher, logger zerolog.Logger) *FailureCoordinator {
	return &FailureCoordinator{refresher: refresher, logger: logger}
}

// NotifyPossibleChallengeBlock forces a refresh, or waits for the one already in
// flight, and reports whether it succeeded. The refresh runs detached from ctx;
// a cancelled ctx only stops this caller from waiting.
func (c *FailureCoordinator) NotifyPossibleChallengeBlock(ctx context.Context) bool {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(clearanceFlight, func() (result interface{}, err error) {
		c.flights.Add(1)
		defer func() {
			if p := recover(); p != nil {
				result, err = false, fmt.Errorf("forced refresh panicked: %v", p)
			}
		}()
		return c.refresher.EnsureValid(detached, true), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
		}
		if res.Err != nil {
			c.logger.Error().Err(res.Err).Msg("forced refresh failed")
			return false
		}
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		c.logger.Debug().Err(ctx.Err()).Msg("stopped waiting for forced refresh")
		return false
	}
}

// Flights returns how many forced refreshes actually ran
func (c *FailureCoordinator) Flights() int64 {
	return c.flights.Load()
}

// Coalesced returns how many results were shared between concurrent callers
func (c *FailureCoordinator) Coalesced() int64 {
	return c.coalesced.Load()
}
