package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/entitlement"
)

// ConfirmResult is the outcome of a bounded confirmation poll.
type ConfirmResult string

const (
	// Confirmed means an active plan was observed for the user.
	Confirmed ConfirmResult = "confirmed"
	// TimedOutPendingWebhook means the attempt budget ran out. This is not a
	// failure: the webhook path may still complete the activation, so
	// callers present "activation in progress", never an error.
	TimedOutPendingWebhook ConfirmResult = "timed_out_pending_webhook"
	// Cancelled means the context was cancelled before confirmation.
	Cancelled ConfirmResult = "cancelled"
)

// PlanChecker is the slice of the entitlement store the supervisor needs.
type PlanChecker interface {
	GetActivePlan(ctx context.Context, userID uuid.UUID) (*entitlement.PlanRecord, error)
}

// Supervisor polls the entitlement store after an unreliable client-triggered
// verification, waiting for the webhook path to land the activation. Lookup
// errors count as "not yet confirmed" and polling continues; only the
// attempt budget or context cancellation stop it.
type Supervisor struct {
	checker  PlanChecker
	attempts int
	interval time.Duration

	// sleep waits for the given duration or until ctx is done. Injectable
	// so tests run without real timers.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor with the given attempt budget and
// spacing between attempts.
func NewSupervisor(checker PlanChecker, attempts int, interval time.Duration) *Supervisor {
	return &Supervisor{
		checker:  checker,
		attempts: attempts,
		interval: interval,
		sleep:    sleepWithContext,
	}
}

// Await polls until an active plan is observed, the attempt budget is
// exhausted, or ctx is cancelled. It returns as soon as confirmation is
// observed; remaining attempts are not fired.
func (s *Supervisor) Await(ctx context.Context, userID uuid.UUID) ConfirmResult {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if ctx.Err() != nil {
			return Cancelled
		}

		plan, err := s.checker.GetActivePlan(ctx, userID)
		if err != nil {
			slog.Debug("confirmation poll: lookup failed, retrying", "error", err, "attempt", attempt)
		} else if plan != nil {
			slog.Info("plan activation confirmed", "user_id", userID, "attempt", attempt)
			return Confirmed
		}

		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			return Cancelled
		}
	}

	slog.Info("plan activation not confirmed, deferring to webhook", "user_id", userID, "attempts", s.attempts)
	return TimedOutPendingWebhook
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
