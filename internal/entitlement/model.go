package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// PlanType identifies a paid plan tier.
type PlanType string

const (
	PlanHourly  PlanType = "hourly"
	PlanDaily   PlanType = "daily"
	PlanMonthly PlanType = "monthly"
)

// Valid reports whether pt is one of the known tiers.
func (pt PlanType) Valid() bool {
	switch pt {
	case PlanHourly, PlanDaily, PlanMonthly:
		return true
	}
	return false
}

// Plan record status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusExpired  = "expired"
)

// Payment order status values.
const (
	OrderPending = "pending"
	OrderPaid    = "paid"
)

// DailyUsage matches the daily_usage table: one row per user per UTC day,
// created lazily on first use. Counters only ever grow within a day.
type DailyUsage struct {
	UserID           uuid.UUID `json:"user_id"`
	Date             time.Time `json:"date"`
	ResponsesCount   int       `json:"responses_count"`
	OutputTokensUsed int       `json:"output_tokens_used"`
	InputTokensUsed  int       `json:"input_tokens_used"`
	LastUsageTime    time.Time `json:"last_usage_time"`
}

// PlanRecord matches the plan_records table. At most one row per user is
// active at any instant (partial unique index); the reconciler deactivates
// prior actives inside the activation transaction.
type PlanRecord struct {
	ID                    uuid.UUID `json:"id"`
	UserID                uuid.UUID `json:"user_id"`
	PlanType              PlanType  `json:"plan_type"`
	Status                string    `json:"status"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	RemainingInputTokens  int64     `json:"remaining_input_tokens"`
	RemainingOutputTokens int64     `json:"remaining_output_tokens"`
	OrderID               string    `json:"order_id"`
	PaymentID             string    `json:"payment_id"`
	AmountPaid            int64     `json:"amount_paid"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Expired reports whether the plan's validity window has passed, regardless
// of the stored status. Callers observing a stale "active" must transition
// it to expired (lazy expiry).
func (p *PlanRecord) Expired(now time.Time) bool {
	return p.EndTime.Before(now)
}

// PaymentOrder is the pending-order marker persisted at order creation so the
// webhook path can map order_id back to (user_id, plan_type) without any
// client session context.
type PaymentOrder struct {
	OrderID   string    `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	PlanType  PlanType  `json:"plan_type"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
