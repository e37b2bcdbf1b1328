package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry matches the billing_events table schema: the durable trace of plan
// activations, payment confirmations and quota denials.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id,omitempty"`
	PlanType  string    `json:"plan_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for event queries.
type ListParams struct {
	EventType string
	Page      int
	PageSize  int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
