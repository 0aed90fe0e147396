package evidence

import (
	"bytes"
	"context"
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type fakeAdapter struct {
	metadata   pmsadapter.Metadata
	docs       []pmsadapter.DocumentInfo
	fetchErr   error
	fetchCalls int
	content    []byte
}

func (a *fakeAdapter) Authenticate(ctx context.Context) error { return nil }

func (a *fakeAdapter) GetReservation(ctx context.Context, externalId string) (*pmsadapter.Reservation, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *fakeAdapter) SearchReservations(ctx context.Context, criteria pmsadapter.SearchCriteria) (*pmsadapter.SearchResult, error) {
	return &pmsadapter.SearchResult{}, nil
}

func (a *fakeAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*pmsadapter.Folio, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *fakeAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]pmsadapter.DocumentInfo, error) {
	return a.docs, nil
}

func (a *fakeAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*pmsadapter.Document, error) {
	a.fetchCalls++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	for _, info := range a.docs {
		if info.DocumentId == documentId {
			return &pmsadapter.Document{
				DocumentInfo: info,
				Data:         a.content,
				FetchedAt:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
			}, nil
		}
	}
	return nil, &pmsadapter.PermanentAdapterError{StatusCode: 404, Message: "document not found"}
}

func (a *fakeAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	return pmsadapter.ErrCapabilityNotSupported
}

func (a *fakeAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	return pmsadapter.ErrCapabilityNotSupported
}

func (a *fakeAdapter) Metadata() pmsadapter.Metadata { return a.metadata }

func TestCollectionPlanStartsWithFolio(t *testing.T) {
	if len(collectionPlan) == 0 || collectionPlan[0] != models.EvidenceTypeFolio {
		t.Fatalf("collection plan must start with the folio, got %v", collectionPlan)
	}
	seen := map[models.EvidenceType]bool{}
	for _, evidenceType := range collectionPlan {
		if seen[evidenceType] {
			t.Fatalf("evidence type %s appears twice in the plan", evidenceType)
		}
		seen[evidenceType] = true
	}
}

func TestMapDocumentType(t *testing.T) {
	cases := []struct {
		in   string
		want models.EvidenceType
	}{
		{"FOLIO", models.EvidenceTypeFolio},
		{"guest_folio", models.EvidenceTypeFolio},
		{"reg-card", models.EvidenceTypeAuthSignature},
		{"CHECKOUT_RECEIPT", models.EvidenceTypeCheckoutSignature},
		{"receipt", models.EvidenceTypePaymentReceipt},
		{"passport_scan", models.EvidenceTypeIDScan},
		{"booking_confirmation", models.EvidenceTypeReservationConfirmation},
		{"mystery", models.EvidenceTypeOther},
	}
	for _, tc := range cases {
		if got := mapDocumentType(tc.in); got != tc.want {
			t.Fatalf("mapDocumentType(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestMemoryBlobStorePutIsIdempotent(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()

	if err := store.Put(ctx, "evidence/1/abc", []byte("first"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "evidence/1/abc", []byte("second write ignored"), "text/plain"); err != nil {
		t.Fatalf("repeat put: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("store holds %d objects, want 1", store.Len())
	}
	data, ok := store.Get("evidence/1/abc")
	if !ok || string(data) != "first" {
		t.Fatalf("stored content = %q, want the first write preserved", data)
	}
}

func TestRunStepSkipsTypesVendorLacks(t *testing.T) {
	t.Setenv("GENERATED_FOLIO_EVIDENCE", "false")

	adapter := &fakeAdapter{
		metadata: pmsadapter.Metadata{VendorType: "ROOMKEY", SupportsDocuments: false},
	}
	store := NewMemoryBlobStore()
	collector := NewCollector(nil, store)

	chargeback := &models.Chargeback{ID: 7, PropertyId: "prop-1", Status: models.ChargebackStatusReceived}
	reservation := &models.CanonicalReservation{ID: 3, PropertyId: "prop-1", ExternalId: "RK-1001"}

	for _, evidenceType := range collectionPlan {
		step := collector.runStep(context.Background(), adapter, chargeback, reservation, evidenceType, nil, CollectOptions{})
		if step.Status != StepSkipped {
			t.Fatalf("step %s status = %s, want %s", evidenceType, step.Status, StepSkipped)
		}
	}
	if adapter.fetchCalls != 0 {
		t.Fatalf("fetch called %d times for a vendor without documents", adapter.fetchCalls)
	}
	if store.Len() != 0 {
		t.Fatalf("store holds %d objects, want 0", store.Len())
	}
}

func TestRunStepFailureDoesNotAbort(t *testing.T) {
	t.Setenv("GENERATED_FOLIO_EVIDENCE", "false")

	adapter := &fakeAdapter{
		metadata: pmsadapter.Metadata{VendorType: "AUTOCLERK", SupportsDocuments: true},
		docs: []pmsadapter.DocumentInfo{
			{DocumentId: "doc-1", Type: "REG_CARD", Name: "registration.pdf", ContentType: "application/pdf"},
		},
		fetchErr: &pmsadapter.PermanentAdapterError{StatusCode: 410, Message: "document purged"},
	}
	store := NewMemoryBlobStore()
	collector := NewCollector(nil, store)

	chargeback := &models.Chargeback{ID: 7, PropertyId: "prop-1", Status: models.ChargebackStatusReceived}
	reservation := &models.CanonicalReservation{ID: 3, PropertyId: "prop-1", ExternalId: "AC-2001"}
	available := map[models.EvidenceType]pmsadapter.DocumentInfo{
		models.EvidenceTypeAuthSignature: adapter.docs[0],
	}

	failed := collector.runStep(context.Background(), adapter, chargeback, reservation, models.EvidenceTypeAuthSignature, available, CollectOptions{})
	if failed.Status != StepFailed {
		t.Fatalf("step status = %s, want %s", failed.Status, StepFailed)
	}
	if failed.Error == "" {
		t.Fatal("failed step carries no error detail")
	}
	if adapter.fetchCalls != 1 {
		t.Fatalf("permanent error retried: %d fetch calls", adapter.fetchCalls)
	}

	// The rest of the plan still runs after a failed step.
	next := collector.runStep(context.Background(), adapter, chargeback, reservation, models.EvidenceTypeIDScan, available, CollectOptions{})
	if next.Status != StepSkipped {
		t.Fatalf("next step status = %s, want %s", next.Status, StepSkipped)
	}
}

func TestGenerateFolioXLSX(t *testing.T) {
	reservation := &models.CanonicalReservation{
		ID:                 3,
		GuestName:          "John Smith",
		ConfirmationNumber: "CNF-88421",
		RoomNumber:         "412",
		CheckInDate:        time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CheckOutDate:       time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC),
	}
	lines := []models.FolioLineItem{
		{ID: 2, PostingDate: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), Category: models.FolioCategoryRoom, Description: "Room charge", Amount: decimal.RequireFromString("189.00")},
		{ID: 1, PostingDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), Category: models.FolioCategoryRoom, Description: "Room charge", Amount: decimal.RequireFromString("189.00")},
		{ID: 3, PostingDate: time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC), Category: models.FolioCategoryPayment, Description: "Card payment", Amount: decimal.RequireFromString("-378.00")},
	}

	data, err := GenerateFolioXLSX(reservation, lines)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open generated workbook: %v", err)
	}
	defer f.Close()

	guest, err := f.GetCellValue("Sheet1", "B1")
	if err != nil {
		t.Fatalf("read guest cell: %v", err)
	}
	if guest != "John Smith" {
		t.Fatalf("guest cell = %q, want John Smith", guest)
	}

	// Lines are rendered chronologically with a derived running balance.
	firstDate, _ := f.GetCellValue("Sheet1", "A8")
	if firstDate != "2026-02-01" {
		t.Fatalf("first line date = %q, want 2026-02-01", firstDate)
	}
	finalBalance, _ := f.GetCellValue("Sheet1", "E10")
	if finalBalance != "0.00" {
		t.Fatalf("final running balance = %q, want 0.00", finalBalance)
	}
}
