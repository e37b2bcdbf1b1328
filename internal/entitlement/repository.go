package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines entitlement store operations. All admission-relevant
// mutations are single guarded statements so concurrent requests from the
// same user cannot race a check-then-act window.
type Repository interface {
	GetActivePlan(ctx context.Context, userID uuid.UUID) (*PlanRecord, error)
	GetPlanByOrderID(ctx context.Context, orderID string) (*PlanRecord, error)
	ExpirePlan(ctx context.Context, planID uuid.UUID) error
	DebitPlanTokens(ctx context.Context, planID uuid.UUID, inputTokens, outputTokens int64) (bool, error)

	GetOrCreateDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*DailyUsage, error)
	ConsumeFreeTier(ctx context.Context, userID uuid.UUID, day time.Time, inputTokens, outputTokens, maxResponses, hardOutputCap int) (bool, error)

	CreatePendingOrder(ctx context.Context, order *PaymentOrder) error
	GetOrder(ctx context.Context, orderID string) (*PaymentOrder, error)
	ActivatePlan(ctx context.Context, plan *PlanRecord) (bool, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const planColumns = `id, user_id, plan_type, status, start_time, end_time,
	remaining_input_tokens, remaining_output_tokens,
	order_id, payment_id, amount_paid, created_at, updated_at`

func scanPlan(row pgx.Row) (*PlanRecord, error) {
	p := &PlanRecord{}
	err := row.Scan(&p.ID, &p.UserID, &p.PlanType, &p.Status, &p.StartTime, &p.EndTime,
		&p.RemainingInputTokens, &p.RemainingOutputTokens,
		&p.OrderID, &p.PaymentID, &p.AmountPaid, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresRepository) GetActivePlan(ctx context.Context, userID uuid.UUID) (*PlanRecord, error) {
	plan, err := scanPlan(r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plan_records WHERE user_id = $1 AND status = 'active'`, userID))
	if err != nil {
		return nil, fmt.Errorf("querying active plan: %w", err)
	}
	return plan, nil
}

func (r *postgresRepository) GetPlanByOrderID(ctx context.Context, orderID string) (*PlanRecord, error) {
	plan, err := scanPlan(r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plan_records WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, fmt.Errorf("querying plan by order: %w", err)
	}
	return plan, nil
}

func (r *postgresRepository) ExpirePlan(ctx context.Context, planID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE plan_records
		 SET status = 'expired', updated_at = NOW()
		 WHERE id = $1 AND status = 'active'`, planID)
	if err != nil {
		return fmt.Errorf("expiring plan: %w", err)
	}
	return nil
}

// DebitPlanTokens deducts both budgets in one statement guarded by the
// remaining-balance and validity predicates. Returns false when the guard
// fails, meaning a concurrent request consumed the budget or the plan lapsed
// between the caller's read and this write.
func (r *postgresRepository) DebitPlanTokens(ctx context.Context, planID uuid.UUID, inputTokens, outputTokens int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE plan_records
		 SET remaining_input_tokens = remaining_input_tokens - $2,
		     remaining_output_tokens = remaining_output_tokens - $3,
		     updated_at = NOW()
		 WHERE id = $1
		   AND status = 'active'
		   AND end_time > NOW()
		   AND remaining_input_tokens >= $2
		   AND remaining_output_tokens >= $3`,
		planID, inputTokens, outputTokens)
	if err != nil {
		return false, fmt.Errorf("debiting plan tokens: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) GetOrCreateDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*DailyUsage, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO daily_usage (user_id, date) VALUES ($1, $2)
		 ON CONFLICT (user_id, date) DO NOTHING`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("ensuring daily usage row: %w", err)
	}

	u := &DailyUsage{}
	err = r.pool.QueryRow(ctx,
		`SELECT user_id, date, responses_count, output_tokens_used, input_tokens_used, last_usage_time
		 FROM daily_usage WHERE user_id = $1 AND date = $2`, userID, day,
	).Scan(&u.UserID, &u.Date, &u.ResponsesCount, &u.OutputTokensUsed, &u.InputTokensUsed, &u.LastUsageTime)
	if err != nil {
		return nil, fmt.Errorf("fetching daily usage: %w", err)
	}
	return u, nil
}

// ConsumeFreeTier admits and accounts a free-tier request in one statement.
// The WHERE clause re-checks the response and hard token limits so two
// concurrent requests cannot both slip under the cap.
func (r *postgresRepository) ConsumeFreeTier(ctx context.Context, userID uuid.UUID, day time.Time, inputTokens, outputTokens, maxResponses, hardOutputCap int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE daily_usage
		 SET responses_count = responses_count + 1,
		     input_tokens_used = input_tokens_used + $3,
		     output_tokens_used = output_tokens_used + $4,
		     last_usage_time = NOW()
		 WHERE user_id = $1 AND date = $2
		   AND responses_count < $5
		   AND output_tokens_used + $4 <= $6`,
		userID, day, inputTokens, outputTokens, maxResponses, hardOutputCap)
	if err != nil {
		return false, fmt.Errorf("consuming free tier: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) CreatePendingOrder(ctx context.Context, order *PaymentOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_orders (order_id, user_id, plan_type, amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')`,
		order.OrderID, order.UserID, order.PlanType, order.Amount, order.Currency)
	if err != nil {
		return fmt.Errorf("inserting pending order: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	o := &PaymentOrder{}
	err := r.pool.QueryRow(ctx,
		`SELECT order_id, user_id, plan_type, amount, currency, status, created_at, updated_at
		 FROM payment_orders WHERE order_id = $1`, orderID,
	).Scan(&o.OrderID, &o.UserID, &o.PlanType, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying payment order: %w", err)
	}
	return o, nil
}

// ActivatePlan atomically deactivates the user's current active plan and
// inserts the new one. The insert carries ON CONFLICT (order_id) DO NOTHING:
// when a concurrent reconciliation of the same order wins, the transaction
// rolls back and the prior active plan is restored untouched. Returns false
// if the order was already reconciled.
func (r *postgresRepository) ActivatePlan(ctx context.Context, plan *PlanRecord) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning activation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE plan_records
		 SET status = 'inactive', updated_at = NOW()
		 WHERE user_id = $1 AND status = 'active'`, plan.UserID)
	if err != nil {
		return false, fmt.Errorf("deactivating prior plans: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO plan_records
		   (id, user_id, plan_type, status, start_time, end_time,
		    remaining_input_tokens, remaining_output_tokens,
		    order_id, payment_id, amount_paid)
		 VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (order_id) DO NOTHING`,
		plan.ID, plan.UserID, plan.PlanType, plan.StartTime, plan.EndTime,
		plan.RemainingInputTokens, plan.RemainingOutputTokens,
		plan.OrderID, plan.PaymentID, plan.AmountPaid)
	if err != nil {
		return false, fmt.Errorf("inserting plan record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already reconciled by the other path; rollback restores the
		// deactivated plan.
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE payment_orders SET status = 'paid', updated_at = NOW() WHERE order_id = $1`,
		plan.OrderID)
	if err != nil {
		return false, fmt.Errorf("marking order paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing activation: %w", err)
	}
	return true, nil
}
