package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/entitlement"
	"github.com/serona-ai/serona/internal/metrics"
)

// Service is the admission gate in front of every completion request. A paid
// plan's token budgets are debited, or the free-tier daily counters
// incremented, atomically with the allow decision: the store-side guarded
// update is the decision.
//
// Store failures deny (fail-closed). Only the Redis per-minute limiter fails
// open, since it is an abuse brake and not the entitlement source of truth.
type Service struct {
	repo    entitlement.Repository
	limiter *RateLimiter
	cfg     config.QuotaConfig
	now     func() time.Time
}

// NewService creates a quota Service. limiter may be nil to disable
// per-minute rate limiting.
func NewService(repo entitlement.Repository, limiter *RateLimiter, cfg config.QuotaConfig) *Service {
	return &Service{
		repo:    repo,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Check admits or denies a request for the given token amounts. On an
// allowed decision the amounts are already consumed; the caller owes the
// user a completion, not a second accounting step.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) Decision {
	d := s.check(ctx, userID, inputTokens, outputTokens)
	if d.Allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues("allowed", "").Inc()
	} else {
		metrics.QuotaDecisionsTotal.WithLabelValues("denied", string(d.Reason)).Inc()
	}
	return d
}

func (s *Service) check(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) Decision {
	if s.limiter != nil {
		allowed, err := s.limiter.CheckAndIncrement(ctx, userID, s.cfg.MaxRequestsPerMinute)
		if err != nil {
			slog.Warn("quota: rate limiter check failed, skipping", "error", err)
		} else if !allowed {
			return Decision{Allowed: false, Reason: ReasonRateLimited}
		}
	}

	plan, err := s.repo.GetActivePlan(ctx, userID)
	if err != nil {
		slog.Error("quota: reading active plan", "error", err, "user_id", userID)
		return Decision{Allowed: false, Reason: ReasonStoreUnavailable}
	}

	if plan != nil {
		return s.checkPlan(ctx, plan, int64(inputTokens), int64(outputTokens))
	}
	return s.checkFreeTier(ctx, userID, inputTokens, outputTokens)
}

func (s *Service) checkPlan(ctx context.Context, plan *entitlement.PlanRecord, inputTokens, outputTokens int64) Decision {
	now := s.now()

	if plan.Expired(now) {
		if err := s.repo.ExpirePlan(ctx, plan.ID); err != nil {
			slog.Error("quota: expiring lapsed plan", "error", err, "plan_id", plan.ID)
		}
		return Decision{Allowed: false, Reason: ReasonPlanExpired}
	}

	if plan.RemainingInputTokens < inputTokens {
		return Decision{Allowed: false, Reason: ReasonInputTokenLimitExceeded, Remaining: remainingOf(plan)}
	}
	if plan.RemainingOutputTokens < outputTokens {
		return Decision{Allowed: false, Reason: ReasonOutputTokenLimitExceeded, Remaining: remainingOf(plan)}
	}

	debited, err := s.repo.DebitPlanTokens(ctx, plan.ID, inputTokens, outputTokens)
	if err != nil {
		slog.Error("quota: debiting plan tokens", "error", err, "plan_id", plan.ID)
		return Decision{Allowed: false, Reason: ReasonStoreUnavailable}
	}
	if !debited {
		// A concurrent request drained the budget, or the plan lapsed
		// between our read and the guarded write. Re-read to classify.
		return s.classifyPlanDenial(ctx, plan.UserID, inputTokens, outputTokens)
	}

	return Decision{
		Allowed: true,
		Remaining: &Remaining{
			InputTokens:  plan.RemainingInputTokens - inputTokens,
			OutputTokens: plan.RemainingOutputTokens - outputTokens,
			PlanType:     string(plan.PlanType),
		},
	}
}

func (s *Service) classifyPlanDenial(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int64) Decision {
	plan, err := s.repo.GetActivePlan(ctx, userID)
	if err != nil || plan == nil || plan.Expired(s.now()) {
		return Decision{Allowed: false, Reason: ReasonPlanExpired}
	}
	if plan.RemainingInputTokens < inputTokens {
		return Decision{Allowed: false, Reason: ReasonInputTokenLimitExceeded, Remaining: remainingOf(plan)}
	}
	return Decision{Allowed: false, Reason: ReasonOutputTokenLimitExceeded, Remaining: remainingOf(plan)}
}

func (s *Service) checkFreeTier(ctx context.Context, userID uuid.UUID, inputTokens, outputTokens int) Decision {
	now := s.now().UTC()
	day := truncateToDay(now)

	usage, err := s.repo.GetOrCreateDailyUsage(ctx, userID, day)
	if err != nil {
		slog.Error("quota: reading daily usage", "error", err, "user_id", userID)
		return Decision{Allowed: false, Reason: ReasonStoreUnavailable}
	}

	stats := s.statsOf(usage, now)

	if usage.ResponsesCount >= s.cfg.FreeDailyResponses {
		return Decision{Allowed: false, Reason: ReasonDailyResponseLimitExceeded, Usage: stats}
	}
	if outputTokens > s.cfg.FreeHardOutputTokens {
		return Decision{Allowed: false, Reason: ReasonAbsoluteTokenCeilingExceeded, Usage: stats}
	}
	if usage.OutputTokensUsed+outputTokens > s.cfg.FreeHardOutputTokens {
		return Decision{Allowed: false, Reason: ReasonDailyTokenLimitExceeded, Usage: stats}
	}

	consumed, err := s.repo.ConsumeFreeTier(ctx, userID, day, inputTokens, outputTokens,
		s.cfg.FreeDailyResponses, s.cfg.FreeHardOutputTokens)
	if err != nil {
		slog.Error("quota: consuming free tier", "error", err, "user_id", userID)
		return Decision{Allowed: false, Reason: ReasonStoreUnavailable}
	}
	if !consumed {
		// Lost the race to a concurrent request; re-read and classify.
		usage, err = s.repo.GetOrCreateDailyUsage(ctx, userID, day)
		if err != nil {
			return Decision{Allowed: false, Reason: ReasonStoreUnavailable}
		}
		stats = s.statsOf(usage, now)
		if usage.ResponsesCount >= s.cfg.FreeDailyResponses {
			return Decision{Allowed: false, Reason: ReasonDailyResponseLimitExceeded, Usage: stats}
		}
		return Decision{Allowed: false, Reason: ReasonDailyTokenLimitExceeded, Usage: stats}
	}

	d := Decision{Allowed: true, Usage: &UsageStats{
		ResponsesCount:    usage.ResponsesCount + 1,
		ResponsesLimit:    s.cfg.FreeDailyResponses,
		InputTokensUsed:   usage.InputTokensUsed + inputTokens,
		OutputTokensUsed:  usage.OutputTokensUsed + outputTokens,
		OutputTokensLimit: s.cfg.FreeHardOutputTokens,
		ResetInMinutes:    minutesUntilMidnight(now),
	}}
	if outputTokens > s.cfg.FreeSoftOutputTokens {
		d.Warning = WarningExtendedLimit
	}
	return d
}

// GetStatus returns the user's current entitlement state for display. A plan
// past its end_time is transitioned to expired here too, so a status read is
// never served from a stale-active record.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (*Status, error) {
	plan, err := s.repo.GetActivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	if plan != nil && plan.Expired(s.now()) {
		if err := s.repo.ExpirePlan(ctx, plan.ID); err != nil {
			slog.Error("quota: expiring lapsed plan", "error", err, "plan_id", plan.ID)
		}
		plan = nil
	}

	if plan != nil {
		return &Status{
			Tier:       string(plan.PlanType),
			Plan:       remainingOf(plan),
			PlanEndsAt: plan.EndTime.UTC().Format(time.RFC3339),
		}, nil
	}

	now := s.now().UTC()
	usage, err := s.repo.GetOrCreateDailyUsage(ctx, userID, truncateToDay(now))
	if err != nil {
		return nil, err
	}
	return &Status{Tier: "free", Usage: s.statsOf(usage, now)}, nil
}

func (s *Service) statsOf(usage *entitlement.DailyUsage, now time.Time) *UsageStats {
	return &UsageStats{
		ResponsesCount:    usage.ResponsesCount,
		ResponsesLimit:    s.cfg.FreeDailyResponses,
		InputTokensUsed:   usage.InputTokensUsed,
		OutputTokensUsed:  usage.OutputTokensUsed,
		OutputTokensLimit: s.cfg.FreeHardOutputTokens,
		ResetInMinutes:    minutesUntilMidnight(now),
	}
}

func remainingOf(plan *entitlement.PlanRecord) *Remaining {
	return &Remaining{
		InputTokens:  plan.RemainingInputTokens,
		OutputTokens: plan.RemainingOutputTokens,
		PlanType:     string(plan.PlanType),
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func minutesUntilMidnight(now time.Time) int {
	midnight := truncateToDay(now).Add(24 * time.Hour)
	return int(midnight.Sub(now).Minutes())
}
