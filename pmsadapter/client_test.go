package pmsadapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newAutoClerkAgainstServer(t *testing.T, handler http.Handler) Adapter {
	t.Helper()
	t.Setenv("AUTOCLERK_RATE_LIMIT_PER_MIN", "60000")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := CreateAdapter(VendorAutoClerk, Config{
		BaseURL:     server.URL,
		Credentials: map[string]string{"api_key": "test-key"},
		Timeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return adapter
}

func TestAuthenticateClassifiesUnauthorized(t *testing.T) {
	adapter := newAutoClerkAgainstServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := adapter.Authenticate(context.Background())
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
	if authErr.VendorType != VendorAutoClerk {
		t.Fatalf("expected vendor type %s, got %s", VendorAutoClerk, authErr.VendorType)
	}
}

func TestAuthenticateClassifiesRateLimitWithRetryAfter(t *testing.T) {
	adapter := newAutoClerkAgainstServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := adapter.Authenticate(context.Background())
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %T: %v", err, err)
	}
	if limited.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s retry-after hint, got %s", limited.RetryAfter)
	}
	if !IsRetryable(err) {
		t.Fatal("rate limit errors must be retryable")
	}
}

func TestAuthenticateClassifiesServerErrorAsTransient(t *testing.T) {
	adapter := newAutoClerkAgainstServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := adapter.Authenticate(context.Background())
	var transient *TransientNetworkError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientNetworkError, got %T: %v", err, err)
	}
	if !IsRetryable(err) {
		t.Fatal("5xx errors must be retryable")
	}
}

func TestAutoClerkConnectScenario(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/property", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"property_id":"prop-9"}`))
	})
	mux.HandleFunc("/v1/reservations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{
				"id": "res-42",
				"confirmation_number": "CONF-42",
				"guest_name": "John Smith",
				"arrival_date": "2026-08-20",
				"departure_date": "2026-08-23",
				"total_amount": "512.40",
				"currency": "usd",
				"card_last_four": "4242",
				"status": "CHECKED_OUT",
				"updated_at": "2026-08-23T11:02:00Z"
			}],
			"next_cursor": "",
			"has_more": false
		}`))
	})

	adapter := newAutoClerkAgainstServer(t, mux)
	if err := adapter.Authenticate(context.Background()); err != nil {
		t.Fatalf("expected authentication success, got %v", err)
	}

	result, err := adapter.SearchReservations(context.Background(), SearchCriteria{CardLastFour: "4242"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(result.Reservations))
	}
	res := result.Reservations[0]
	if res.ExternalId != "res-42" || res.ConfirmationNumber != "CONF-42" {
		t.Fatalf("unexpected identifiers: %+v", res)
	}
	if res.Status != "checked_out" {
		t.Fatalf("expected canonical status checked_out, got %s", res.Status)
	}
	if res.TotalAmount.String() != "512.4" {
		t.Fatalf("expected total amount 512.4, got %s", res.TotalAmount.String())
	}
	if res.Currency != "USD" {
		t.Fatalf("expected normalized currency USD, got %s", res.Currency)
	}
}
