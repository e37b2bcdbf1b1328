package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Payment gateway credentials
	if c.Razorpay.KeyID == "" {
		errs = append(errs, "RAZORPAY_KEY_ID is required")
	}
	if c.Razorpay.KeySecret == "" {
		errs = append(errs, "RAZORPAY_KEY_SECRET is required")
	}
	if c.Razorpay.WebhookSecret == "" {
		// Webhook reconciliation is the authoritative path; refusing to start
		// without it prevents silently dropping gateway callbacks.
		errs = append(errs, "RAZORPAY_WEBHOOK_SECRET is required")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Quota policy sanity
	if c.Quota.FreeSoftOutputTokens > c.Quota.FreeHardOutputTokens {
		errs = append(errs, fmt.Sprintf("QUOTA_FREE_SOFT_OUTPUT_TOKENS (%d) must not exceed QUOTA_FREE_HARD_OUTPUT_TOKENS (%d)",
			c.Quota.FreeSoftOutputTokens, c.Quota.FreeHardOutputTokens))
	}
	if c.Confirm.Attempts < 1 {
		errs = append(errs, "CONFIRM_ATTEMPTS must be at least 1")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// LLM key: warn only, the completion pipeline degrades without it
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty — completion requests will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
