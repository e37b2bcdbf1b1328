package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamBilling carries billing and quota lifecycle events.
const StreamBilling = "SERONA_BILLING"

// Subject constants.
const (
	SubjectPlanActivated    = "serona.billing.plan.activated"
	SubjectPaymentConfirmed = "serona.billing.payment.confirmed"
	SubjectQuotaDenied      = "serona.billing.quota.denied"
)

// Billing event types as persisted in the billing event log.
const (
	EventPlanActivated    = "plan_activated"
	EventPaymentConfirmed = "payment_confirmed"
	EventQuotaDenied      = "quota_denied"
)

// BillingEvent is published on plan activations, payment confirmations and
// quota denials; a durable consumer persists it to the billing event log.
type BillingEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id,omitempty"`
	PlanType  string    `json:"plan_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
