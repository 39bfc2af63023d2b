package ports

import (
	"context"
	"time"

	"github.com/layer-3/clearway/core"
)

// EgressController drives the proxy selector group that carries upstream traffic
type EgressController interface {
	GroupStatus(ctx context.Context) (core.GroupStatus, error)
	// LatencySamples returns the latest positive delay per node; unmeasured nodes are absent
	LatencySamples(ctx context.Context) (map[string]time.Duration, error)
	SwitchTo(ctx context.Context, node string) error
}
