package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/serona-ai/serona/internal/entitlement"
)

type fakeChecker struct {
	calls int
	check func(attempt int) (*entitlement.PlanRecord, error)
}

func (f *fakeChecker) GetActivePlan(context.Context, uuid.UUID) (*entitlement.PlanRecord, error) {
	f.calls++
	return f.check(f.calls)
}

func instantSupervisor(checker PlanChecker, attempts int) *Supervisor {
	s := NewSupervisor(checker, attempts, 5*time.Second)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestAwait_ConfirmsAndStops(t *testing.T) {
	checker := &fakeChecker{check: func(attempt int) (*entitlement.PlanRecord, error) {
		if attempt == 3 {
			return &entitlement.PlanRecord{Status: entitlement.StatusActive}, nil
		}
		return nil, nil
	}}

	result := instantSupervisor(checker, 5).Await(context.Background(), uuid.New())

	assert.Equal(t, Confirmed, result)
	// Remaining attempts must not fire after confirmation.
	assert.Equal(t, 3, checker.calls)
}

func TestAwait_TimesOutPendingWebhook(t *testing.T) {
	checker := &fakeChecker{check: func(int) (*entitlement.PlanRecord, error) {
		return nil, nil
	}}

	result := instantSupervisor(checker, 5).Await(context.Background(), uuid.New())

	assert.Equal(t, TimedOutPendingWebhook, result)
	assert.Equal(t, 5, checker.calls)
}

func TestAwait_LookupErrorsKeepPolling(t *testing.T) {
	checker := &fakeChecker{check: func(attempt int) (*entitlement.PlanRecord, error) {
		if attempt < 4 {
			return nil, errors.New("store flapping")
		}
		return &entitlement.PlanRecord{Status: entitlement.StatusActive}, nil
	}}

	result := instantSupervisor(checker, 5).Await(context.Background(), uuid.New())

	assert.Equal(t, Confirmed, result)
	assert.Equal(t, 4, checker.calls)
}

func TestAwait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &fakeChecker{check: func(int) (*entitlement.PlanRecord, error) {
		cancel()
		return nil, nil
	}}

	result := instantSupervisor(checker, 5).Await(ctx, uuid.New())

	assert.Equal(t, Cancelled, result)
	assert.Equal(t, 1, checker.calls)
}
