package pmsadapter

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAdapterUnknownVendorListsSupportedTypes(t *testing.T) {
	_, err := CreateAdapter("FANTASY_PMS", Config{})
	if err == nil {
		t.Fatal("expected error for unknown vendor type")
	}
	var unsupported *UnsupportedVendorError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedVendorError, got %T: %v", err, err)
	}
	if unsupported.VendorType != "FANTASY_PMS" {
		t.Fatalf("expected vendor type preserved, got %q", unsupported.VendorType)
	}
	if len(unsupported.Supported) == 0 {
		t.Fatal("expected supported types to be listed")
	}
	found := map[string]bool{}
	for _, key := range unsupported.Supported {
		found[key] = true
	}
	for _, want := range []string{VendorAutoClerk, VendorOpera, VendorRoomKey} {
		if !found[want] {
			t.Fatalf("expected %s in supported types, got %v", want, unsupported.Supported)
		}
	}
}

func TestCreateAdapterIsCaseInsensitiveOnVendorKey(t *testing.T) {
	adapter, err := CreateAdapter("autoclerk", Config{
		Credentials: map[string]string{"api_key": "test-key"},
	})
	if err != nil {
		t.Fatalf("expected lowercase key to resolve, got %v", err)
	}
	if adapter.Metadata().VendorType != VendorAutoClerk {
		t.Fatalf("expected %s metadata, got %s", VendorAutoClerk, adapter.Metadata().VendorType)
	}
}

func TestConstructorsValidateCredentials(t *testing.T) {
	cases := []struct {
		vendor string
		creds  map[string]string
	}{
		{VendorAutoClerk, map[string]string{}},
		{VendorOpera, map[string]string{"client_id": "id-only"}},
		{VendorRoomKey, map[string]string{"username": "user-only"}},
	}
	for _, tc := range cases {
		if _, err := CreateAdapter(tc.vendor, Config{Credentials: tc.creds}); err == nil {
			t.Fatalf("%s: expected constructor to reject incomplete credentials", tc.vendor)
		}
	}
}

func TestMetadataDeclaresCapabilities(t *testing.T) {
	autoclerk, err := GetMetadata(VendorAutoClerk)
	if err != nil {
		t.Fatal(err)
	}
	if autoclerk.AuthType != "api_key" {
		t.Fatalf("expected autoclerk auth type api_key, got %s", autoclerk.AuthType)
	}
	if !autoclerk.SupportsDocuments || !autoclerk.SupportsWebhooks || !autoclerk.SupportsPush {
		t.Fatal("expected autoclerk to declare documents, webhooks, and push")
	}

	roomkey, err := GetMetadata(VendorRoomKey)
	if err != nil {
		t.Fatal(err)
	}
	if roomkey.AuthType != "basic" {
		t.Fatalf("expected roomkey auth type basic, got %s", roomkey.AuthType)
	}
	if roomkey.SupportsDocuments || roomkey.SupportsWebhooks || roomkey.SupportsPush {
		t.Fatal("expected roomkey to declare no documents, webhooks, or push")
	}

	opera, err := GetMetadata(VendorOpera)
	if err != nil {
		t.Fatal(err)
	}
	if opera.AuthType != "oauth2" {
		t.Fatalf("expected opera auth type oauth2, got %s", opera.AuthType)
	}
}

func TestAdaptersRequireAuthenticationBeforeDataCalls(t *testing.T) {
	adapter, err := CreateAdapter(VendorRoomKey, Config{
		Credentials: map[string]string{"username": "u", "password": "p"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := adapter.GetReservation(context.Background(), "res-1"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := adapter.SearchReservations(context.Background(), SearchCriteria{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRoomKeyUnsupportedCapabilities(t *testing.T) {
	adapter, err := CreateAdapter(VendorRoomKey, Config{
		Credentials: map[string]string{"username": "u", "password": "p"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := adapter.PushCaseUpdate(context.Background(), "case-1", "submitted"); !errors.Is(err, ErrCapabilityNotSupported) {
		t.Fatalf("expected ErrCapabilityNotSupported, got %v", err)
	}
	if err := adapter.SubscribeWebhook(context.Background(), "https://example.com/hook", "secret"); !errors.Is(err, ErrCapabilityNotSupported) {
		t.Fatalf("expected ErrCapabilityNotSupported, got %v", err)
	}
	if _, err := adapter.FetchDocument(context.Background(), "res-1", "doc-1"); !errors.Is(err, ErrCapabilityNotSupported) {
		t.Fatalf("expected ErrCapabilityNotSupported, got %v", err)
	}
}
