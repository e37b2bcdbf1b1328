package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Quota    QuotaConfig
	Plans    PlansConfig
	Razorpay RazorpayConfig
	Confirm  ConfirmConfig
	LLM      LLMConfig
	NATS     NATSConfig
	CORS     CORSConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// QuotaConfig holds the free-tier admission policy. The numbers are policy,
// not algorithm: every limit is overridable via environment.
type QuotaConfig struct {
	FreeDailyResponses   int // responses per UTC day without a plan
	FreeSoftOutputTokens int // above this a non-fatal extended-limit warning is attached
	FreeHardOutputTokens int // absolute per-day and per-request output token ceiling
	MaxRequestsPerMinute int // Redis sliding-window limit on completion requests
}

// PlansConfig prices are in minor currency units (paise).
type PlansConfig struct {
	HourlyPrice  int64
	DailyPrice   int64
	MonthlyPrice int64
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Currency      string
	Timeout       time.Duration
}

// ConfirmConfig drives the payment confirmation poller that watches for
// webhook-driven activation after a soft-failed client verification.
type ConfirmConfig struct {
	Attempts int
	Interval time.Duration
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
	Timeout         time.Duration
}

type NATSConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		Quota: QuotaConfig{
			FreeDailyResponses:   k.Int("quota.free.daily.responses"),
			FreeSoftOutputTokens: k.Int("quota.free.soft.output.tokens"),
			FreeHardOutputTokens: k.Int("quota.free.hard.output.tokens"),
			MaxRequestsPerMinute: k.Int("quota.max.requests.per.minute"),
		},
		Plans: PlansConfig{
			HourlyPrice:  k.Int64("plans.hourly.price"),
			DailyPrice:   k.Int64("plans.daily.price"),
			MonthlyPrice: k.Int64("plans.monthly.price"),
		},
		Razorpay: RazorpayConfig{
			KeyID:         k.String("razorpay.key.id"),
			KeySecret:     k.String("razorpay.key.secret"),
			WebhookSecret: k.String("razorpay.webhook.secret"),
			BaseURL:       k.String("razorpay.base.url"),
			Currency:      k.String("razorpay.currency"),
		},
		Confirm: ConfirmConfig{
			Attempts: k.Int("confirm.attempts"),
		},
		LLM: LLMConfig{
			APIKey:          k.String("llm.api.key"),
			BaseURL:         k.String("llm.base.url"),
			Model:           k.String("llm.model"),
			MaxOutputTokens: k.Int("llm.max.output.tokens"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "serona"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "serona"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Quota.FreeDailyResponses == 0 {
		cfg.Quota.FreeDailyResponses = 7
	}
	if cfg.Quota.FreeSoftOutputTokens == 0 {
		cfg.Quota.FreeSoftOutputTokens = 400
	}
	if cfg.Quota.FreeHardOutputTokens == 0 {
		cfg.Quota.FreeHardOutputTokens = 800
	}
	if cfg.Quota.MaxRequestsPerMinute == 0 {
		cfg.Quota.MaxRequestsPerMinute = 20
	}
	if cfg.Plans.HourlyPrice == 0 {
		cfg.Plans.HourlyPrice = 2500
	}
	if cfg.Plans.DailyPrice == 0 {
		cfg.Plans.DailyPrice = 15000
	}
	if cfg.Plans.MonthlyPrice == 0 {
		cfg.Plans.MonthlyPrice = 299900
	}
	if cfg.Razorpay.BaseURL == "" {
		cfg.Razorpay.BaseURL = "https://api.razorpay.com/v1"
	}
	if cfg.Razorpay.Currency == "" {
		cfg.Razorpay.Currency = "INR"
	}
	if cfg.Confirm.Attempts == 0 {
		cfg.Confirm.Attempts = 5
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxOutputTokens == 0 {
		cfg.LLM.MaxOutputTokens = 400
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "15m"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	refreshExpStr := k.String("jwt.refresh.expiry")
	if refreshExpStr == "" {
		refreshExpStr = "168h"
	}
	cfg.JWT.RefreshExpiry, err = time.ParseDuration(refreshExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt refresh expiry: %w", err)
	}

	gwTimeoutStr := k.String("razorpay.timeout")
	if gwTimeoutStr == "" {
		gwTimeoutStr = "10s"
	}
	cfg.Razorpay.Timeout, err = time.ParseDuration(gwTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing razorpay timeout: %w", err)
	}

	intervalStr := k.String("confirm.interval")
	if intervalStr == "" {
		intervalStr = "5s"
	}
	cfg.Confirm.Interval, err = time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("parsing confirm interval: %w", err)
	}

	llmTimeoutStr := k.String("llm.timeout")
	if llmTimeoutStr == "" {
		llmTimeoutStr = "60s"
	}
	cfg.LLM.Timeout, err = time.ParseDuration(llmTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing llm timeout: %w", err)
	}

	return cfg, nil
}
