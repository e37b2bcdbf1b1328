//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
)

func hmacHex(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func createOrder(t *testing.T, env *TestEnv, token, planType string) map[string]any {
	t.Helper()
	resp := DoRequest(t, env, "POST", "/api/v1/payments/orders",
		map[string]string{"plan_type": planType}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d", resp.StatusCode)
	}
	return ParseResponse(t, resp)["data"].(map[string]any)
}

func deliverWebhook(t *testing.T, env *TestEnv, orderID, paymentID string, amount int64, secret string) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"order_id":%q,"payment_id":%q,"amount":%d}`, orderID, paymentID, amount)
	req, err := http.NewRequest("POST", env.Server.URL+"/webhooks/razorpay", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("creating webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Razorpay-Signature", hmacHex(body, secret))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delivering webhook: %v", err)
	}
	return resp
}

func TestPayments_ClientVerificationActivatesPlan(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-client@example.com", "password123")
	token := LoginUser(t, env, "pay-client@example.com", "password123")

	order := createOrder(t, env, token, "hourly")
	orderID := order["order_id"].(string)
	if order["amount"].(float64) != 2500 {
		t.Fatalf("expected hourly price 2500, got %v", order["amount"])
	}

	resp := DoRequest(t, env, "POST", "/api/v1/payments/verify", map[string]string{
		"order_id":   orderID,
		"payment_id": "pay_client_1",
		"signature":  hmacHex(orderID+"|pay_client_1", "itest-key-secret"),
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.StatusCode)
	}
	data := ParseResponse(t, resp)["data"].(map[string]any)
	if data["status"] != "active" {
		t.Fatalf("expected active status, got %v", data["status"])
	}
	plan := data["plan"].(map[string]any)
	if plan["remaining_output_tokens"].(float64) != 9000 {
		t.Fatalf("expected hourly output budget 9000, got %v", plan["remaining_output_tokens"])
	}

	// The quota gate now debits the plan instead of the free tier.
	d := checkQuota(t, env, token, 100, 600)
	if d["allowed"] != true {
		t.Fatalf("expected plan-backed admission, got %v", d["reason"])
	}
	remaining := d["remaining"].(map[string]any)
	if remaining["output_tokens"].(float64) != 8400 {
		t.Fatalf("expected remaining output 8400, got %v", remaining["output_tokens"])
	}
}

func TestPayments_ForgedSignatureRejected(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-forged@example.com", "password123")
	token := LoginUser(t, env, "pay-forged@example.com", "password123")

	order := createOrder(t, env, token, "daily")
	orderID := order["order_id"].(string)

	resp := DoRequest(t, env, "POST", "/api/v1/payments/verify", map[string]string{
		"order_id":   orderID,
		"payment_id": "pay_forged_1",
		"signature":  "0000000000000000000000000000000000000000000000000000000000000000",
	}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged signature, got %d", resp.StatusCode)
	}

	status := DoRequest(t, env, "GET", "/api/v1/payments/orders/"+orderID, nil, token)
	data := ParseResponse(t, status)["data"].(map[string]any)
	if data["status"] != "pending" {
		t.Fatalf("expected order still pending, got %v", data["status"])
	}
}

func TestPayments_WebhookActivatesWithoutClient(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-webhook@example.com", "password123")
	token := LoginUser(t, env, "pay-webhook@example.com", "password123")

	order := createOrder(t, env, token, "daily")
	orderID := order["order_id"].(string)

	// The client never calls verify; the webhook alone activates the plan.
	resp := deliverWebhook(t, env, orderID, "pay_wh_1", 15000, webhookSecret)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", resp.StatusCode)
	}

	status := DoRequest(t, env, "GET", "/api/v1/quota", nil, token)
	data := ParseResponse(t, status)["data"].(map[string]any)
	if data["tier"] != "daily" {
		t.Fatalf("expected daily tier after webhook, got %v", data["tier"])
	}
}

func TestPayments_BothPathsSingleActivation(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-race@example.com", "password123")
	token := LoginUser(t, env, "pay-race@example.com", "password123")

	order := createOrder(t, env, token, "monthly")
	orderID := order["order_id"].(string)

	// Webhook lands first, then the client-triggered verification replays.
	wh := deliverWebhook(t, env, orderID, "pay_race_1", 299900, webhookSecret)
	wh.Body.Close()

	resp := DoRequest(t, env, "POST", "/api/v1/payments/verify", map[string]string{
		"order_id":   orderID,
		"payment_id": "pay_race_1",
		"signature":  hmacHex(orderID+"|pay_race_1", "itest-key-secret"),
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify replay: expected 200, got %d", resp.StatusCode)
	}
	ParseResponse(t, resp)

	// Exactly one plan record exists for the order.
	var count int
	err := env.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM plan_records WHERE order_id = $1`, orderID).Scan(&count)
	if err != nil {
		t.Fatalf("counting plan records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one plan record, got %d", count)
	}
}

func TestPayments_WebhookBadSignature(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-whbad@example.com", "password123")
	token := LoginUser(t, env, "pay-whbad@example.com", "password123")

	order := createOrder(t, env, token, "hourly")
	orderID := order["order_id"].(string)

	resp := deliverWebhook(t, env, orderID, "pay_whbad_1", 2500, "not-the-secret")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad webhook signature, got %d", resp.StatusCode)
	}
}

func TestPayments_InvalidPlanType(t *testing.T) {
	env := SetupTestEnv(t)
	RegisterUser(t, env, "pay-badplan@example.com", "password123")
	token := LoginUser(t, env, "pay-badplan@example.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/payments/orders",
		map[string]string{"plan_type": "weekly"}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown plan type, got %d", resp.StatusCode)
	}
}
