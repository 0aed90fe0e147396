package syncengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_0123456789abcdef"
	body := []byte(`{"event":"reservation_updated","reservation_id":"AC-1001"}`)

	if !VerifyWebhookSignature(secret, body, sign(secret, body)) {
		t.Fatal("valid signature rejected")
	}
	if !VerifyWebhookSignature(secret, body, "sha256="+sign(secret, body)) {
		t.Fatal("valid signature with sha256= prefix rejected")
	}
	if VerifyWebhookSignature(secret, body, sign("wrong-secret", body)) {
		t.Fatal("signature from the wrong secret accepted")
	}
	if VerifyWebhookSignature(secret, []byte(`{"event":"tampered"}`), sign(secret, body)) {
		t.Fatal("signature over different bytes accepted")
	}
	if VerifyWebhookSignature(secret, body, "") {
		t.Fatal("empty signature accepted")
	}
	if VerifyWebhookSignature("", body, sign("", body)) {
		t.Fatal("integration without a secret accepted a signed payload")
	}
}
