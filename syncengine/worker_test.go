package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"gorm.io/gorm"
)

type stubAdapter struct {
	searchCalls int
	search      func(call int) (*pmsadapter.SearchResult, error)
	getCalls    int
	get         func(call int) (*pmsadapter.Reservation, error)
	folioCalls  int
	folio       func(call int) (*pmsadapter.Folio, error)
}

func (a *stubAdapter) Authenticate(ctx context.Context) error { return nil }

func (a *stubAdapter) GetReservation(ctx context.Context, externalId string) (*pmsadapter.Reservation, error) {
	a.getCalls++
	if a.get != nil {
		return a.get(a.getCalls)
	}
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *stubAdapter) SearchReservations(ctx context.Context, criteria pmsadapter.SearchCriteria) (*pmsadapter.SearchResult, error) {
	a.searchCalls++
	if a.search != nil {
		return a.search(a.searchCalls)
	}
	return &pmsadapter.SearchResult{}, nil
}

func (a *stubAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*pmsadapter.Folio, error) {
	a.folioCalls++
	if a.folio != nil {
		return a.folio(a.folioCalls)
	}
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *stubAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]pmsadapter.DocumentInfo, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *stubAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*pmsadapter.Document, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *stubAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	return nil
}

func (a *stubAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	return nil
}

func (a *stubAdapter) Metadata() pmsadapter.Metadata {
	return pmsadapter.Metadata{VendorType: "stub"}
}

func fastRetry(t *testing.T) {
	t.Helper()
	prev := syncRetry
	syncRetry = pmsadapter.RetryPolicy{
		BaseDelay:   time.Millisecond,
		Factor:      2,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 5,
	}
	t.Cleanup(func() { syncRetry = prev })
}

func stubConnected(t *testing.T, fn func(call int) bool) *int {
	t.Helper()
	prev := integrationConnected
	calls := 0
	integrationConnected = func(ctx context.Context, db *gorm.DB, integration *models.Integration) bool {
		calls++
		return fn(calls)
	}
	t.Cleanup(func() { integrationConnected = prev })
	return &calls
}

func TestSyncReservationsRetriesTransientFailures(t *testing.T) {
	fastRetry(t)
	stubConnected(t, func(int) bool { return true })

	adapter := &stubAdapter{
		search: func(int) (*pmsadapter.SearchResult, error) {
			return nil, &pmsadapter.TransientNetworkError{VendorType: "stub", Err: errors.New("upstream 503")}
		},
	}
	integration := &models.Integration{ID: 7, PropertyId: "prop-1"}

	_, _, _, err := syncReservations(context.Background(), nil, integration, adapter, 0, models.SyncTypeFull, CursorEntry{})
	if err == nil {
		t.Fatal("expected error after retries exhaust")
	}
	if adapter.searchCalls != 5 {
		t.Fatalf("SearchReservations called %d times, want 5", adapter.searchCalls)
	}
}

func TestSyncReservationsDoesNotRetryPermanentErrors(t *testing.T) {
	fastRetry(t)
	stubConnected(t, func(int) bool { return true })

	adapter := &stubAdapter{
		search: func(int) (*pmsadapter.SearchResult, error) {
			return nil, &pmsadapter.PermanentAdapterError{VendorType: "stub", StatusCode: 400, Message: "bad date range"}
		},
	}
	integration := &models.Integration{ID: 7, PropertyId: "prop-1"}

	_, _, _, err := syncReservations(context.Background(), nil, integration, adapter, 0, models.SyncTypeFull, CursorEntry{})
	if err == nil {
		t.Fatal("expected permanent error to surface")
	}
	if adapter.searchCalls != 1 {
		t.Fatalf("SearchReservations called %d times, want 1", adapter.searchCalls)
	}
}

func TestSyncReservationsCancelledBetweenPages(t *testing.T) {
	fastRetry(t)
	stubConnected(t, func(call int) bool { return call == 1 })

	adapter := &stubAdapter{
		search: func(int) (*pmsadapter.SearchResult, error) {
			return &pmsadapter.SearchResult{HasMore: true, NextCursor: "page-2"}, nil
		},
	}
	integration := &models.Integration{ID: 7, PropertyId: "prop-1"}

	_, _, _, err := syncReservations(context.Background(), nil, integration, adapter, 0, models.SyncTypeFull, CursorEntry{})
	if !errors.Is(err, errSyncCancelled) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if adapter.searchCalls != 1 {
		t.Fatalf("SearchReservations called %d times after disconnect, want 1", adapter.searchCalls)
	}
}

func TestSyncSingleReservationRetriesTransientFailures(t *testing.T) {
	fastRetry(t)

	adapter := &stubAdapter{
		get: func(int) (*pmsadapter.Reservation, error) {
			return nil, &pmsadapter.TransientNetworkError{VendorType: "stub", Err: errors.New("connection reset")}
		},
	}
	integration := &models.Integration{ID: 7, PropertyId: "prop-1"}

	_, _, err := syncSingleReservation(context.Background(), nil, integration, adapter, 0, "RES-1")
	if err == nil {
		t.Fatal("expected error after retries exhaust")
	}
	if adapter.getCalls != 5 {
		t.Fatalf("GetReservation called %d times, want 5", adapter.getCalls)
	}
}

func TestIngestFolioRetriesThenSkipsUnsupported(t *testing.T) {
	fastRetry(t)
	integration := &models.Integration{ID: 7, PropertyId: "prop-1"}

	flaky := &stubAdapter{
		folio: func(int) (*pmsadapter.Folio, error) {
			return nil, &pmsadapter.TransientNetworkError{VendorType: "stub", Err: errors.New("504")}
		},
	}
	if err := ingestFolio(context.Background(), nil, integration, flaky, 0, "RES-1", 1); err == nil {
		t.Fatal("expected error after retries exhaust")
	}
	if flaky.folioCalls != 5 {
		t.Fatalf("GetFolio called %d times, want 5", flaky.folioCalls)
	}

	unsupported := &stubAdapter{}
	if err := ingestFolio(context.Background(), nil, integration, unsupported, 0, "RES-1", 1); err != nil {
		t.Fatalf("unsupported folio capability should be skipped, got %v", err)
	}
	if unsupported.folioCalls != 1 {
		t.Fatalf("GetFolio called %d times, want 1", unsupported.folioCalls)
	}
}
