package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing billing events. A nil
// Publisher is valid and drops all events, so callers never need to branch
// on whether NATS is configured.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishPlanActivated publishes a plan activation event.
func (p *Publisher) PublishPlanActivated(ctx context.Context, userID uuid.UUID, orderID, planType string) error {
	return p.publish(ctx, SubjectPlanActivated, BillingEvent{
		UserID:    userID,
		EventType: EventPlanActivated,
		OrderID:   orderID,
		PlanType:  planType,
		Timestamp: time.Now().UTC(),
	})
}

// PublishPaymentConfirmed publishes a confirmation observed by the
// verification poller after a webhook-driven activation.
func (p *Publisher) PublishPaymentConfirmed(ctx context.Context, userID uuid.UUID, orderID string) error {
	return p.publish(ctx, SubjectPaymentConfirmed, BillingEvent{
		UserID:    userID,
		EventType: EventPaymentConfirmed,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	})
}

// PublishQuotaDenied publishes a quota denial event.
func (p *Publisher) PublishQuotaDenied(ctx context.Context, userID uuid.UUID, reason string) error {
	return p.publish(ctx, SubjectQuotaDenied, BillingEvent{
		UserID:    userID,
		EventType: EventQuotaDenied,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, event BillingEvent) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
