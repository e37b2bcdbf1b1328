package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/entitlement"
	"github.com/serona-ai/serona/internal/events"
	"github.com/serona-ai/serona/internal/metrics"
)

// Service issues payment orders and reconciles receipts into activated plan
// records. Reconciliation is idempotent by order_id: the client-triggered
// path and the gateway webhook may arrive in either order, concurrently, or
// one of them not at all, and exactly one activation results.
type Service struct {
	repo      entitlement.Repository
	gateway   Gateway
	catalog   *Catalog
	publisher *events.Publisher
	cfg       config.RazorpayConfig
	now       func() time.Time
}

func NewService(repo entitlement.Repository, gateway Gateway, catalog *Catalog, publisher *events.Publisher, cfg config.RazorpayConfig) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		catalog:   catalog,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// OrderDetails is what the client needs to open the hosted checkout.
type OrderDetails struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

// CreateOrder opens a gateway order for the tier and persists the pending
// order_id → (user_id, plan_type) mapping before returning. The webhook
// carries no client session, so this mapping is the only way it can
// attribute the payment.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, planType entitlement.PlanType) (*OrderDetails, error) {
	amount, err := s.catalog.Price(planType)
	if err != nil {
		return nil, err
	}

	receipt := fmt.Sprintf("serona_%s_%d", userID, s.now().Unix())
	orderID, err := s.gateway.CreateOrder(ctx, amount, s.cfg.Currency, receipt)
	if err != nil {
		return nil, err
	}

	err = s.repo.CreatePendingOrder(ctx, &entitlement.PaymentOrder{
		OrderID:  orderID,
		UserID:   userID,
		PlanType: planType,
		Amount:   amount,
		Currency: s.cfg.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting pending order: %w", err)
	}

	metrics.PaymentOrdersTotal.WithLabelValues(string(planType)).Inc()
	slog.Info("payment order created", "order_id", orderID, "user_id", userID, "plan_type", planType, "amount", amount)

	return &OrderDetails{
		OrderID:  orderID,
		Amount:   amount,
		Currency: s.cfg.Currency,
		KeyID:    s.cfg.KeyID,
	}, nil
}

// Receipt is the proof of payment handed to the client by the hosted checkout.
type Receipt struct {
	OrderID   string
	PaymentID string
	Signature string
}

// VerifyPayment is the client-triggered reconciliation path. The signature
// check is fatal on mismatch: an unauthenticated receipt never activates
// anything.
func (s *Service) VerifyPayment(ctx context.Context, receipt Receipt) (*entitlement.PlanRecord, error) {
	if !VerifyCheckoutSignature(receipt.OrderID, receipt.PaymentID, receipt.Signature, s.cfg.KeySecret) {
		metrics.PaymentReconciliationsTotal.WithLabelValues("client", "invalid_signature").Inc()
		return nil, ErrInvalidSignature
	}

	plan, err := s.reconcile(ctx, receipt.OrderID, receipt.PaymentID, "client")
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ReconcileWebhook is the webhook-triggered path. Transport-level signature
// verification happens in the handler over the raw body; by the time we are
// here the payload is authentic.
func (s *Service) ReconcileWebhook(ctx context.Context, orderID, paymentID string) (*entitlement.PlanRecord, error) {
	return s.reconcile(ctx, orderID, paymentID, "webhook")
}

// reconcile converts a verified receipt into exactly one active plan record.
// Replays detect the existing record keyed by order_id and no-op.
func (s *Service) reconcile(ctx context.Context, orderID, paymentID, path string) (*entitlement.PlanRecord, error) {
	existing, err := s.repo.GetPlanByOrderID(ctx, orderID)
	if err != nil {
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "store_error").Inc()
		return nil, fmt.Errorf("checking for reconciled order: %w", err)
	}
	if existing != nil {
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "replay").Inc()
		slog.Info("order already reconciled", "order_id", orderID, "path", path)
		return existing, nil
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "store_error").Inc()
		return nil, fmt.Errorf("looking up pending order: %w", err)
	}
	if order == nil {
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "order_not_found").Inc()
		return nil, ErrOrderNotFound
	}

	duration, err := s.catalog.Duration(order.PlanType)
	if err != nil {
		return nil, err
	}
	budget, err := s.catalog.Budget(order.PlanType)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	plan := &entitlement.PlanRecord{
		ID:                    uuid.New(),
		UserID:                order.UserID,
		PlanType:              order.PlanType,
		Status:                entitlement.StatusActive,
		StartTime:             now,
		EndTime:               now.Add(duration),
		RemainingInputTokens:  budget.InputTokens,
		RemainingOutputTokens: budget.OutputTokens,
		OrderID:               orderID,
		PaymentID:             paymentID,
		AmountPaid:            order.Amount,
	}

	activated, err := s.repo.ActivatePlan(ctx, plan)
	if err != nil {
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "store_error").Inc()
		return nil, fmt.Errorf("activating plan: %w", err)
	}
	if !activated {
		// The other path won the activation race between our existence
		// check and the insert.
		metrics.PaymentReconciliationsTotal.WithLabelValues(path, "replay").Inc()
		existing, err := s.repo.GetPlanByOrderID(ctx, orderID)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("fetching concurrently reconciled plan: %w", err)
		}
		return existing, nil
	}

	metrics.PaymentReconciliationsTotal.WithLabelValues(path, "activated").Inc()
	slog.Info("plan activated",
		"order_id", orderID, "payment_id", paymentID,
		"user_id", order.UserID, "plan_type", order.PlanType, "path", path)

	if err := s.publisher.PublishPlanActivated(ctx, order.UserID, orderID, string(order.PlanType)); err != nil {
		slog.Warn("publishing plan activation event", "error", err, "order_id", orderID)
	}

	return plan, nil
}

// GetOrderStatus returns the pending/paid state of an order owned by userID,
// for clients polling activation progress manually.
func (s *Service) GetOrderStatus(ctx context.Context, userID uuid.UUID, orderID string) (*entitlement.PaymentOrder, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
