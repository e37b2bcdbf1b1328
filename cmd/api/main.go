package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/serona-ai/serona/internal/api"
	"github.com/serona-ai/serona/internal/auth"
	"github.com/serona-ai/serona/internal/billing"
	"github.com/serona-ai/serona/internal/billing/eventlog"
	"github.com/serona-ai/serona/internal/chat"
	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/database"
	"github.com/serona-ai/serona/internal/entitlement"
	"github.com/serona-ai/serona/internal/events"
	"github.com/serona-ai/serona/internal/middleware"
	"github.com/serona-ai/serona/internal/quota"
	iredis "github.com/serona-ai/serona/internal/redis"
	"github.com/serona-ai/serona/internal/server"
	"github.com/serona-ai/serona/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS is optional: without it billing events are dropped and the event
	// log endpoint serves whatever was persisted before.
	var natsClient *events.Client
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = events.NewPublisher(natsClient.JetStream())
	} else {
		slog.Warn("NATS not configured, billing events disabled")
	}

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	// Entitlement store shared by the quota gate and payment reconciliation
	entitlementRepo := entitlement.NewRepository(pool)

	// Quota
	quotaLimiter := quota.NewRateLimiter(redisClient)
	quotaSvc := quota.NewService(entitlementRepo, quotaLimiter, cfg.Quota)
	quotaHandler := quota.NewHandler(quotaSvc)

	// Billing
	catalog := billing.NewCatalog(cfg.Plans)
	gateway := billing.NewRazorpayGateway(cfg.Razorpay)
	billingSvc := billing.NewService(entitlementRepo, gateway, catalog, publisher, cfg.Razorpay)
	supervisor := billing.NewSupervisor(entitlementRepo, cfg.Confirm.Attempts, cfg.Confirm.Interval)
	billingHandler := billing.NewHandler(billingSvc, supervisor, publisher, cfg.Razorpay.WebhookSecret)

	// Billing event log
	eventlogRepo := eventlog.NewRepository(pool)
	eventlogHandler := eventlog.NewHandler(eventlogRepo)
	if natsClient != nil {
		consumer := eventlog.NewConsumer(eventlogRepo, events.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("billing event consumer stopped", "error", err)
			}
		}()
	}

	// Chat
	chatRepo := chat.NewRepository(pool)
	completer := chat.NewCompleter(cfg.LLM)
	chatSvc := chat.NewService(chatRepo, quotaSvc, completer, publisher, cfg.LLM)
	chatHandler := chat.NewHandler(chatSvc)

	// Login/register brute-force brake: per-IP, 10 requests per minute
	authLimiter := middleware.NewRateLimiter(redisClient, 10, 60)

	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		AuthRateLimiter:    authLimiter.Middleware,
	}, api.HandlerSet{
		Register: authHandler.Register,
		Login:    authHandler.Login,
		Refresh:  authHandler.Refresh,
		Logout:   authHandler.Logout,

		CheckPlanLimits: quotaHandler.Check,
		GetQuota:        quotaHandler.GetStatus,

		CreatePaymentOrder: billingHandler.CreateOrder,
		VerifyPayment:      billingHandler.VerifyPayment,
		GetPaymentOrder:    billingHandler.GetOrder,
		RazorpayWebhook:    billingHandler.Webhook,

		ListBillingEvents: eventlogHandler.List,

		CreateChat:          chatHandler.CreateChat,
		ListChats:           chatHandler.ListChats,
		ListMessages:        chatHandler.ListMessages,
		SendMessage:         chatHandler.SendMessage,
		DeleteChat:          chatHandler.DeleteChat,
		OwnershipMiddleware: chatHandler.OwnershipMiddleware,

		AuthMiddleware: auth.Middleware(authSvc),
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
