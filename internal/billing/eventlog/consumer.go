package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/serona-ai/serona/internal/events"
)

// Consumer listens on the billing NATS subjects and persists entries to the
// billing event log.
type Consumer struct {
	repo        *Repository
	consumerMgr *events.ConsumerManager
}

// NewConsumer creates a new billing event Consumer.
func NewConsumer(repo *Repository, consumerMgr *events.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, events.StreamBilling, "billing-event-persister", "serona.billing.>")
	if err != nil {
		return err
	}

	slog.Info("billing event consumer started", "consumer", "billing-event-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(events.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("billing event consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event events.BillingEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("billing event consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	entry := &Entry{
		ID:        uuid.New(),
		UserID:    event.UserID,
		EventType: event.EventType,
		OrderID:   event.OrderID,
		PlanType:  event.PlanType,
		Reason:    event.Reason,
		CreatedAt: event.Timestamp,
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("billing event consumer: persisting entry", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("billing event consumer: persisted event",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"order_id", event.OrderID,
	)
}
