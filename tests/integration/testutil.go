//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/serona-ai/serona/internal/api"
	"github.com/serona-ai/serona/internal/auth"
	"github.com/serona-ai/serona/internal/billing"
	"github.com/serona-ai/serona/internal/billing/eventlog"
	"github.com/serona-ai/serona/internal/chat"
	"github.com/serona-ai/serona/internal/config"
	"github.com/serona-ai/serona/internal/entitlement"
	"github.com/serona-ai/serona/internal/quota"
	"github.com/serona-ai/serona/internal/users"
)

const webhookSecret = "integration-webhook-secret"

type TestEnv struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	Server          *httptest.Server
	EntitlementRepo entitlement.Repository
	QuotaSvc        *quota.Service
	BillingSvc      *billing.Service
}

var testEnv *TestEnv

// stubGateway mints sequential order IDs without talking to Razorpay.
type stubGateway struct {
	seq atomic.Int64
}

func (g *stubGateway) CreateOrder(context.Context, int64, string, string) (string, error) {
	return fmt.Sprintf("order_itest_%d", g.seq.Add(1)), nil
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "serona_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/serona_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Auth
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", "test-refresh-secret-32-chars-long!", 15*time.Minute, 7*24*time.Hour)
	authSvc := auth.NewService(jwtManager, redisClient)
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)
	authHandler := auth.NewHandler(authSvc, userSvc)

	entitlementRepo := entitlement.NewRepository(pool)

	// Quota gate; no per-minute limiter so tests can fire requests freely
	quotaCfg := config.QuotaConfig{
		FreeDailyResponses:   7,
		FreeSoftOutputTokens: 400,
		FreeHardOutputTokens: 800,
	}
	quotaSvc := quota.NewService(entitlementRepo, nil, quotaCfg)
	quotaHandler := quota.NewHandler(quotaSvc)

	// Billing against a stub gateway
	rzpCfg := config.RazorpayConfig{
		KeyID:         "rzp_test_itest",
		KeySecret:     "itest-key-secret",
		WebhookSecret: webhookSecret,
		Currency:      "INR",
	}
	catalog := billing.NewCatalog(config.PlansConfig{HourlyPrice: 2500, DailyPrice: 15000, MonthlyPrice: 299900})
	billingSvc := billing.NewService(entitlementRepo, &stubGateway{}, catalog, nil, rzpCfg)
	supervisor := billing.NewSupervisor(entitlementRepo, 3, 50*time.Millisecond)
	billingHandler := billing.NewHandler(billingSvc, supervisor, nil, webhookSecret)

	eventlogRepo := eventlog.NewRepository(pool)
	eventlogHandler := eventlog.NewHandler(eventlogRepo)

	// Chat with a canned completer
	llmCfg := config.LLMConfig{Model: "test-model", MaxOutputTokens: 400, Timeout: 5 * time.Second}
	chatRepo := chat.NewRepository(pool)
	completer := &chat.MockCompleter{CompleteFunc: func(context.Context, []chat.Message, int) (string, error) {
		return "canned reply", nil
	}}
	chatSvc := chat.NewService(chatRepo, quotaSvc, completer, nil, llmCfg)
	chatHandler := chat.NewHandler(chatSvc)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
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

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:            pool,
		RedisClient:     redisClient,
		Server:          server,
		EntitlementRepo: entitlementRepo,
		QuotaSvc:        quotaSvc,
		BillingSvc:      billingSvc,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func RegisterUser(t *testing.T, env *TestEnv, email, password string) map[string]any {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/register", body, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: status %d", resp.StatusCode)
	}
	return ParseResponse(t, resp)
}

func LoginUser(t *testing.T, env *TestEnv, email, password string) string {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, "POST", "/api/v1/auth/login", body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	return data["access_token"].(string)
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
