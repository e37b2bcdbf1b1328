package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/entitlement"
)

type fakeRepository struct {
	GetActivePlanFunc         func(ctx context.Context, userID uuid.UUID) (*entitlement.PlanRecord, error)
	GetPlanByOrderIDFunc      func(ctx context.Context, orderID string) (*entitlement.PlanRecord, error)
	ExpirePlanFunc            func(ctx context.Context, planID uuid.UUID) error
	DebitPlanTokensFunc       func(ctx context.Context, planID uuid.UUID, inputTokens, outputTokens int64) (bool, error)
	GetOrCreateDailyUsageFunc func(ctx context.Context, userID uuid.UUID, day time.Time) (*entitlement.DailyUsage, error)
	ConsumeFreeTierFunc       func(ctx context.Context, userID uuid.UUID, day time.Time, inputTokens, outputTokens, maxResponses, hardOutputCap int) (bool, error)
	CreatePendingOrderFunc    func(ctx context.Context, order *entitlement.PaymentOrder) error
	GetOrderFunc              func(ctx context.Context, orderID string) (*entitlement.PaymentOrder, error)
	ActivatePlanFunc          func(ctx context.Context, plan *entitlement.PlanRecord) (bool, error)
}

func (f *fakeRepository) GetActivePlan(ctx context.Context, userID uuid.UUID) (*entitlement.PlanRecord, error) {
	if f.GetActivePlanFunc != nil {
		return f.GetActivePlanFunc(ctx, userID)
	}
	return nil, nil
}

func (f *fakeRepository) GetPlanByOrderID(ctx context.Context, orderID string) (*entitlement.PlanRecord, error) {
	if f.GetPlanByOrderIDFunc != nil {
		return f.GetPlanByOrderIDFunc(ctx, orderID)
	}
	return nil, nil
}

func (f *fakeRepository) ExpirePlan(ctx context.Context, planID uuid.UUID) error {
	if f.ExpirePlanFunc != nil {
		return f.ExpirePlanFunc(ctx, planID)
	}
	return nil
}

func (f *fakeRepository) DebitPlanTokens(ctx context.Context, planID uuid.UUID, inputTokens, outputTokens int64) (bool, error) {
	if f.DebitPlanTokensFunc != nil {
		return f.DebitPlanTokensFunc(ctx, planID, inputTokens, outputTokens)
	}
	return true, nil
}

func (f *fakeRepository) GetOrCreateDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
	if f.GetOrCreateDailyUsageFunc != nil {
		return f.GetOrCreateDailyUsageFunc(ctx, userID, day)
	}
	return &entitlement.DailyUsage{UserID: userID, Date: day}, nil
}

func (f *fakeRepository) ConsumeFreeTier(ctx context.Context, userID uuid.UUID, day time.Time, inputTokens, outputTokens, maxResponses, hardOutputCap int) (bool, error) {
	if f.ConsumeFreeTierFunc != nil {
		return f.ConsumeFreeTierFunc(ctx, userID, day, inputTokens, outputTokens, maxResponses, hardOutputCap)
	}
	return true, nil
}

func (f *fakeRepository) CreatePendingOrder(ctx context.Context, order *entitlement.PaymentOrder) error {
	if f.CreatePendingOrderFunc != nil {
		return f.CreatePendingOrderFunc(ctx, order)
	}
	return nil
}

func (f *fakeRepository) GetOrder(ctx context.Context, orderID string) (*entitlement.PaymentOrder, error) {
	if f.GetOrderFunc != nil {
		return f.GetOrderFunc(ctx, orderID)
	}
	return nil, nil
}

func (f *fakeRepository) ActivatePlan(ctx context.Context, plan *entitlement.PlanRecord) (bool, error) {
	if f.ActivatePlanFunc != nil {
		return f.ActivatePlanFunc(ctx, plan)
	}
	return true, nil
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		FreeDailyResponses:   7,
		FreeSoftOutputTokens: 400,
		FreeHardOutputTokens: 800,
		MaxRequestsPerMinute: 60,
	}
}

func newTestService(repo entitlement.Repository) *Service {
	return NewService(repo, nil, testQuotaConfig())
}

func TestCheck_FreeTierAllowed(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepository{
		GetOrCreateDailyUsageFunc: func(_ context.Context, uid uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
			return &entitlement.DailyUsage{
				UserID:           uid,
				Date:             day,
				ResponsesCount:   2,
				OutputTokensUsed: 100,
			}, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), userID, 50, 300)

	assert.True(t, d.Allowed)
	assert.Empty(t, d.Warning)
	require.NotNil(t, d.Usage)
	assert.Equal(t, 3, d.Usage.ResponsesCount)
	assert.Equal(t, 400, d.Usage.OutputTokensUsed)
	assert.Equal(t, 7, d.Usage.ResponsesLimit)
}

func TestCheck_FreeTierResponseLimitReached(t *testing.T) {
	repo := &fakeRepository{
		GetOrCreateDailyUsageFunc: func(_ context.Context, uid uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
			return &entitlement.DailyUsage{UserID: uid, Date: day, ResponsesCount: 7}, nil
		},
		ConsumeFreeTierFunc: func(context.Context, uuid.UUID, time.Time, int, int, int, int) (bool, error) {
			t.Fatal("consume must not run when the response limit is already reached")
			return false, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 100)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyResponseLimitExceeded, d.Reason)
	require.NotNil(t, d.Usage)
	assert.Equal(t, 7, d.Usage.ResponsesCount)
	assert.Positive(t, d.Usage.ResetInMinutes)
}

func TestCheck_FreeTierAbsoluteCeiling(t *testing.T) {
	repo := &fakeRepository{}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 900)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAbsoluteTokenCeilingExceeded, d.Reason)
}

func TestCheck_FreeTierDailyTokenBudget(t *testing.T) {
	// 350 tokens already used today: a 500-token request would land at 850,
	// past the 800 hard cap, even though 500 alone is under it.
	repo := &fakeRepository{
		GetOrCreateDailyUsageFunc: func(_ context.Context, uid uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
			return &entitlement.DailyUsage{UserID: uid, Date: day, ResponsesCount: 1, OutputTokensUsed: 350}, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 500)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyTokenLimitExceeded, d.Reason)
}

func TestCheck_FreeTierExtendedLimitWarning(t *testing.T) {
	// 500 output tokens: over the 400 soft limit, under the 800 hard cap.
	repo := &fakeRepository{}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 500)

	assert.True(t, d.Allowed)
	assert.Equal(t, WarningExtendedLimit, d.Warning)
}

func TestCheck_FreeTierLostRace(t *testing.T) {
	// The pre-check passes but the guarded update reports no rows: a
	// concurrent request got there first. The denial is classified from a
	// re-read.
	calls := 0
	repo := &fakeRepository{
		GetOrCreateDailyUsageFunc: func(_ context.Context, uid uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
			calls++
			count := 6
			if calls > 1 {
				count = 7
			}
			return &entitlement.DailyUsage{UserID: uid, Date: day, ResponsesCount: count}, nil
		},
		ConsumeFreeTierFunc: func(context.Context, uuid.UUID, time.Time, int, int, int, int) (bool, error) {
			return false, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 100)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyResponseLimitExceeded, d.Reason)
	assert.Equal(t, 2, calls)
}

func TestCheck_StoreErrorDenies(t *testing.T) {
	repo := &fakeRepository{
		GetActivePlanFunc: func(context.Context, uuid.UUID) (*entitlement.PlanRecord, error) {
			return nil, errors.New("connection refused")
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 100)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
}

func TestCheck_PaidPlanDebits(t *testing.T) {
	planID := uuid.New()
	var debitedIn, debitedOut int64
	repo := &fakeRepository{
		GetActivePlanFunc: func(_ context.Context, uid uuid.UUID) (*entitlement.PlanRecord, error) {
			return &entitlement.PlanRecord{
				ID:                    planID,
				UserID:                uid,
				PlanType:              entitlement.PlanHourly,
				Status:                entitlement.StatusActive,
				EndTime:               time.Now().Add(30 * time.Minute),
				RemainingInputTokens:  5000,
				RemainingOutputTokens: 9000,
			}, nil
		},
		DebitPlanTokensFunc: func(_ context.Context, id uuid.UUID, in, out int64) (bool, error) {
			assert.Equal(t, planID, id)
			debitedIn, debitedOut = in, out
			return true, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 200, 600)

	assert.True(t, d.Allowed)
	assert.Equal(t, int64(200), debitedIn)
	assert.Equal(t, int64(600), debitedOut)
	require.NotNil(t, d.Remaining)
	assert.Equal(t, int64(4800), d.Remaining.InputTokens)
	assert.Equal(t, int64(8400), d.Remaining.OutputTokens)
	assert.Equal(t, "hourly", d.Remaining.PlanType)
}

func TestCheck_PaidPlanInsufficientOutput(t *testing.T) {
	repo := &fakeRepository{
		GetActivePlanFunc: func(_ context.Context, uid uuid.UUID) (*entitlement.PlanRecord, error) {
			return &entitlement.PlanRecord{
				ID:                    uuid.New(),
				UserID:                uid,
				PlanType:              entitlement.PlanDaily,
				Status:                entitlement.StatusActive,
				EndTime:               time.Now().Add(time.Hour),
				RemainingInputTokens:  60000,
				RemainingOutputTokens: 500,
			}, nil
		},
		DebitPlanTokensFunc: func(context.Context, uuid.UUID, int64, int64) (bool, error) {
			t.Fatal("debit must not run when the pre-check already fails")
			return false, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 100, 600)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonOutputTokenLimitExceeded, d.Reason)
}

func TestCheck_LapsedPlanExpiresThenDenies(t *testing.T) {
	planID := uuid.New()
	expired := false
	repo := &fakeRepository{
		GetActivePlanFunc: func(_ context.Context, uid uuid.UUID) (*entitlement.PlanRecord, error) {
			return &entitlement.PlanRecord{
				ID:       planID,
				UserID:   uid,
				PlanType: entitlement.PlanHourly,
				Status:   entitlement.StatusActive,
				EndTime:  time.Now().Add(-time.Minute),
			}, nil
		},
		ExpirePlanFunc: func(_ context.Context, id uuid.UUID) error {
			assert.Equal(t, planID, id)
			expired = true
			return nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 10, 100)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPlanExpired, d.Reason)
	assert.True(t, expired)
}

func TestCheck_PaidPlanLostDebitRace(t *testing.T) {
	remaining := int64(9000)
	repo := &fakeRepository{
		GetActivePlanFunc: func(_ context.Context, uid uuid.UUID) (*entitlement.PlanRecord, error) {
			p := &entitlement.PlanRecord{
				ID:                    uuid.New(),
				UserID:                uid,
				PlanType:              entitlement.PlanHourly,
				Status:                entitlement.StatusActive,
				EndTime:               time.Now().Add(time.Hour),
				RemainingInputTokens:  5000,
				RemainingOutputTokens: remaining,
			}
			remaining = 100 // the re-read sees a drained budget
			return p, nil
		},
		DebitPlanTokensFunc: func(context.Context, uuid.UUID, int64, int64) (bool, error) {
			return false, nil
		},
	}

	d := newTestService(repo).Check(context.Background(), uuid.New(), 100, 600)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonOutputTokenLimitExceeded, d.Reason)
}

func TestGetStatus_FreeTier(t *testing.T) {
	repo := &fakeRepository{
		GetOrCreateDailyUsageFunc: func(_ context.Context, uid uuid.UUID, day time.Time) (*entitlement.DailyUsage, error) {
			return &entitlement.DailyUsage{UserID: uid, Date: day, ResponsesCount: 3, OutputTokensUsed: 250}, nil
		},
	}

	status, err := newTestService(repo).GetStatus(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, "free", status.Tier)
	require.NotNil(t, status.Usage)
	assert.Equal(t, 3, status.Usage.ResponsesCount)
}

func TestGetStatus_LapsedPlanFallsBackToFree(t *testing.T) {
	expired := false
	repo := &fakeRepository{
		GetActivePlanFunc: func(_ context.Context, uid uuid.UUID) (*entitlement.PlanRecord, error) {
			return &entitlement.PlanRecord{
				ID:      uuid.New(),
				UserID:  uid,
				Status:  entitlement.StatusActive,
				EndTime: time.Now().Add(-time.Hour),
			}, nil
		},
		ExpirePlanFunc: func(context.Context, uuid.UUID) error {
			expired = true
			return nil
		},
	}

	status, err := newTestService(repo).GetStatus(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, "free", status.Tier)
}
