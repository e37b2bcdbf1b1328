package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/serona-ai/serona/internal/api"
	"github.com/serona-ai/serona/internal/auth"
	"github.com/serona-ai/serona/internal/entitlement"
	"github.com/serona-ai/serona/internal/events"
)

type Handler struct {
	svc           *Service
	supervisor    *Supervisor
	publisher     *events.Publisher
	webhookSecret string
	validate      *validator.Validate
}

func NewHandler(svc *Service, supervisor *Supervisor, publisher *events.Publisher, webhookSecret string) *Handler {
	return &Handler{
		svc:           svc,
		supervisor:    supervisor,
		publisher:     publisher,
		webhookSecret: webhookSecret,
		validate:      validator.New(),
	}
}

type createOrderBody struct {
	PlanType string `json:"plan_type" validate:"required"`
}

// CreateOrder handles POST /api/v1/payments/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	var req createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), userID, entitlement.PlanType(req.PlanType))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPlanType):
			api.HandleError(w, api.ErrInvalidPlanType)
		case errors.Is(err, ErrGatewayUnavailable):
			slog.Error("creating gateway order", "error", err)
			api.HandleError(w, api.ErrGatewayUnavailable)
		default:
			slog.Error("creating payment order", "error", err)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}

	api.JSON(w, http.StatusCreated, order)
}

type verifyPaymentBody struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type verifyPaymentResponse struct {
	Success bool                    `json:"success"`
	Status  string                  `json:"status"`
	Plan    *entitlement.PlanRecord `json:"plan,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// VerifyPayment handles POST /api/v1/payments/verify, the client-triggered
// reconciliation path. Signature failures are fatal. Transient store or
// lookup failures are reported as a soft success with status "pending": the
// webhook path is authoritative and a background poller watches for it to
// land, so the UI only sets expectations here.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	var req verifyPaymentBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	plan, err := h.svc.VerifyPayment(r.Context(), Receipt{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			api.HandleError(w, api.ErrInvalidSignature)
		case errors.Is(err, ErrOrderNotFound):
			api.HandleError(w, api.ErrOrderNotFound)
		default:
			slog.Warn("client-triggered reconciliation failed, deferring to webhook",
				"error", err, "order_id", req.OrderID)
			h.awaitWebhookActivation(userID, req.OrderID)
			api.JSON(w, http.StatusAccepted, verifyPaymentResponse{
				Success: true,
				Status:  "pending",
				Message: "payment received, activation in progress",
			})
		}
		return
	}

	api.JSON(w, http.StatusOK, verifyPaymentResponse{
		Success: true,
		Status:  "active",
		Plan:    plan,
	})
}

// awaitWebhookActivation runs the confirmation poller detached from the
// request context, so closing the tab does not abandon the watch.
func (h *Handler) awaitWebhookActivation(userID uuid.UUID, orderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if h.supervisor.Await(ctx, userID) == Confirmed {
			if err := h.publisher.PublishPaymentConfirmed(ctx, userID, orderID); err != nil {
				slog.Warn("publishing payment confirmation", "error", err, "order_id", orderID)
			}
		}
	}()
}

// GetOrder handles GET /api/v1/payments/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUserID(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrderStatus(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			api.HandleError(w, api.ErrOrderNotFound)
			return
		}
		slog.Error("getting order status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, order)
}

type webhookPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

// Webhook handles POST /webhooks/razorpay, the gateway's server-to-server
// callback. There is no user session; authenticity comes from the
// HMAC-SHA256 signature header over the raw body, and attribution from the
// pending-order mapping persisted at order creation.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	if signature == "" || !VerifyWebhookSignature(body, signature, h.webhookSecret) {
		slog.Warn("webhook signature verification failed")
		api.HandleError(w, api.ErrInvalidSignature)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if payload.OrderID == "" || payload.PaymentID == "" {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if _, err := h.svc.ReconcileWebhook(r.Context(), payload.OrderID, payload.PaymentID); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			api.HandleError(w, api.ErrOrderNotFound)
			return
		}
		// Non-2xx makes the gateway redeliver; reconciliation is idempotent
		// so the retry is safe.
		slog.Error("webhook reconciliation failed", "error", err, "order_id", payload.OrderID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func authedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
