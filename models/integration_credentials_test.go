package models_test

import (
	"testing"

	"bitbucket.org/stayshield/disputes_backend/models"
)

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("CREDENTIALS_KEY", "test-key")

	creds := map[string]string{
		"api_key":  "ak_live_12345",
		"hotel_id": "HTL-9",
	}
	ciphertext, err := models.EncryptCredentials(creds)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(ciphertext) == `{"api_key":"ak_live_12345","hotel_id":"HTL-9"}` {
		t.Fatal("credentials stored in plaintext")
	}

	got, err := models.DecryptCredentials(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got["api_key"] != creds["api_key"] || got["hotel_id"] != creds["hotel_id"] {
		t.Fatalf("round trip mismatch: %v", got)
	}

	// Flip one ciphertext byte; GCM must refuse it.
	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := models.DecryptCredentials(tampered); err == nil {
		t.Fatal("expected auth failure for tampered ciphertext")
	}
}
