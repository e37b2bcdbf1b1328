package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyCheckoutSignature(t *testing.T) {
	secret := "test-key-secret"
	sig := signPayload("order_abc|pay_xyz", secret)

	assert.True(t, VerifyCheckoutSignature("order_abc", "pay_xyz", sig, secret))
}

func TestVerifyCheckoutSignature_Tampered(t *testing.T) {
	secret := "test-key-secret"
	sig := signPayload("order_abc|pay_xyz", secret)

	// Flip one byte of the hex signature.
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}

	assert.False(t, VerifyCheckoutSignature("order_abc", "pay_xyz", string(tampered), secret))
	assert.False(t, VerifyCheckoutSignature("order_abc", "pay_other", sig, secret))
	assert.False(t, VerifyCheckoutSignature("order_abc", "pay_xyz", sig, "wrong-secret"))
	assert.False(t, VerifyCheckoutSignature("order_abc", "pay_xyz", "", secret))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"order_id":"order_abc","payment_id":"pay_xyz","amount":2500}`)
	sig := signPayload(string(body), secret)

	assert.True(t, VerifyWebhookSignature(body, sig, secret))

	// Any body mutation invalidates the signature.
	assert.False(t, VerifyWebhookSignature(append(body, ' '), sig, secret))
	assert.False(t, VerifyWebhookSignature(body, sig, "other-secret"))
}
