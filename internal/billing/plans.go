package billing

import (
	"errors"
	"time"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/entitlement"
)

var (
	ErrInvalidPlanType    = errors.New("invalid plan type")
	ErrOrderNotFound      = errors.New("payment order not found")
	ErrInvalidSignature   = errors.New("invalid payment signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// TokenBudget is the grant attached to a freshly activated plan.
type TokenBudget struct {
	InputTokens  int64
	OutputTokens int64
}

// Catalog resolves plan tiers to prices, validity durations and token
// budgets. Prices come from configuration; budgets and durations are the
// product definition of the tiers.
type Catalog struct {
	prices map[entitlement.PlanType]int64
}

var planDurations = map[entitlement.PlanType]time.Duration{
	entitlement.PlanHourly:  time.Hour,
	entitlement.PlanDaily:   24 * time.Hour,
	entitlement.PlanMonthly: 30 * 24 * time.Hour,
}

var planBudgets = map[entitlement.PlanType]TokenBudget{
	entitlement.PlanHourly:  {InputTokens: 5_000, OutputTokens: 9_000},
	entitlement.PlanDaily:   {InputTokens: 60_000, OutputTokens: 108_000},
	entitlement.PlanMonthly: {InputTokens: 1_800_000, OutputTokens: 3_240_000},
}

func NewCatalog(cfg config.PlansConfig) *Catalog {
	return &Catalog{
		prices: map[entitlement.PlanType]int64{
			entitlement.PlanHourly:  cfg.HourlyPrice,
			entitlement.PlanDaily:   cfg.DailyPrice,
			entitlement.PlanMonthly: cfg.MonthlyPrice,
		},
	}
}

// Price returns the plan price in minor currency units.
func (c *Catalog) Price(pt entitlement.PlanType) (int64, error) {
	if !pt.Valid() {
		return 0, ErrInvalidPlanType
	}
	return c.prices[pt], nil
}

// Duration returns the validity window length for the tier.
func (c *Catalog) Duration(pt entitlement.PlanType) (time.Duration, error) {
	d, ok := planDurations[pt]
	if !ok {
		return 0, ErrInvalidPlanType
	}
	return d, nil
}

// Budget returns the token grant for the tier.
func (c *Catalog) Budget(pt entitlement.PlanType) (TokenBudget, error) {
	b, ok := planBudgets[pt]
	if !ok {
		return TokenBudget{}, ErrInvalidPlanType
	}
	return b, nil
}
