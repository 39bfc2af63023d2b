package ports

import (
	"context"
	"time"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishTokenExpired(ctx context.Context, tokenID string, reason string) error
	PublishClearanceRefreshed(ctx context.Context, issuedAt time.Time) error
	PublishEgressSwitched(ctx context.Context, from, to string) error
}
