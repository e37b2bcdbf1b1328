package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serona-ai/serona/internal/database"
	"github.com/serona-ai/serona/internal/events"
	mw "github.com/serona-ai/serona/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Refresh  http.HandlerFunc
	Logout   http.HandlerFunc

	// Quota handlers
	CheckPlanLimits http.HandlerFunc
	GetQuota        http.HandlerFunc

	// Payment handlers
	CreatePaymentOrder http.HandlerFunc
	VerifyPayment      http.HandlerFunc
	GetPaymentOrder    http.HandlerFunc
	RazorpayWebhook    http.HandlerFunc

	// Billing event log
	ListBillingEvents http.HandlerFunc

	// Chat handlers
	CreateChat          http.HandlerFunc
	ListChats           http.HandlerFunc
	ListMessages        http.HandlerFunc
	SendMessage         http.HandlerFunc
	DeleteChat          http.HandlerFunc
	OwnershipMiddleware func(http.Handler) http.Handler

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *events.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Gateway webhook — no user auth, authenticated by the gateway
	// signature header inside the handler.
	r.Post("/webhooks/razorpay", h.RazorpayWebhook)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public) — optionally rate-limited
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Quota routes
			r.Route("/quota", func(r chi.Router) {
				r.Get("/", h.GetQuota)
				r.Post("/check", h.CheckPlanLimits)
			})

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Post("/orders", h.CreatePaymentOrder)
				r.Get("/orders/{orderID}", h.GetPaymentOrder)
				r.Post("/verify", h.VerifyPayment)
			})

			// Billing event log
			r.Get("/billing/events", h.ListBillingEvents)

			// Chat routes
			r.Route("/chats", func(r chi.Router) {
				r.Post("/", h.CreateChat)
				r.Get("/", h.ListChats)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Use(h.OwnershipMiddleware)
					r.Delete("/", h.DeleteChat)
					r.Get("/messages", h.ListMessages)
					r.Post("/messages", h.SendMessage)
				})
			})
		})
	})

	return r
}
