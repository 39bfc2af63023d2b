package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/clearway/ports"
)

const (
	TopicTokenExpired       = "clearway.token.expired"
	TopicClearanceRefreshed = "clearway.clearance.refreshed"
	TopicEgressSwitched     = "clearway.egress.switched"
)

// TokenExpiredEvent is published when a token is retired from the pool
type TokenExpiredEvent struct {
	TokenID string    `json:"token_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// ClearanceRefreshedEvent is published when a new clearance credential is stored
type ClearanceRefreshedEvent struct {
	IssuedAt time.Time `json:"issued_at"`
}

// EgressSwitchedEvent is published when traffic moves to another egress node
type EgressSwitchedEvent struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
	}
}

// PublishTokenExpired publishes a token expiry event
func (p *WatermillPublisher) PublishTokenExpired(ctx context.Context, tokenID string, reason string) error {
	return p.publish(ctx, TopicTokenExpired, TokenExpiredEvent{
		TokenID: tokenID,
		Reason:  reason,
		At:      time.Now().UTC(),
	})
}

// PublishClearanceRefreshed publishes a clearance refresh event
func (p *WatermillPublisher) PublishClearanceRefreshed(ctx context.Context, issuedAt time.Time) error {
	return p.publish(ctx, TopicClearanceRefreshed, ClearanceRefreshedEvent{IssuedAt: issuedAt.UTC()})
}

// PublishEgressSwitched publishes an egress node switch event
func (p *WatermillPublisher) PublishEgressSwitched(ctx context.Context, from, to string) error {
	return p.publish(ctx, TopicEgressSwitched, EgressSwitchedEvent{
		From: from,
		To:   to,
		At:   time.Now().UTC(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
