package models_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/evidence"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/shopspring/decimal"
)

// folioOnlyAdapter serves a single folio document with a fixed fetch
// timestamp so repeat collections hit the same dedupe identity.
type folioOnlyAdapter struct {
	fetchedAt time.Time
}

func (a *folioOnlyAdapter) Authenticate(ctx context.Context) error { return nil }

func (a *folioOnlyAdapter) GetReservation(ctx context.Context, externalId string) (*pmsadapter.Reservation, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *folioOnlyAdapter) SearchReservations(ctx context.Context, criteria pmsadapter.SearchCriteria) (*pmsadapter.SearchResult, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *folioOnlyAdapter) GetFolio(ctx context.Context, reservationExternalId string) (*pmsadapter.Folio, error) {
	return nil, pmsadapter.ErrCapabilityNotSupported
}

func (a *folioOnlyAdapter) ListDocuments(ctx context.Context, reservationExternalId string) ([]pmsadapter.DocumentInfo, error) {
	return []pmsadapter.DocumentInfo{
		{DocumentId: "D1", Type: "FOLIO", Name: "folio.pdf", ContentType: "application/pdf"},
	}, nil
}

func (a *folioOnlyAdapter) FetchDocument(ctx context.Context, reservationExternalId string, documentId string) (*pmsadapter.Document, error) {
	return &pmsadapter.Document{
		DocumentInfo: pmsadapter.DocumentInfo{DocumentId: documentId, Type: "FOLIO", Name: "folio.pdf", ContentType: "application/pdf"},
		Data:         []byte("%PDF-1.4 folio"),
		FetchedAt:    a.fetchedAt,
	}, nil
}

func (a *folioOnlyAdapter) PushCaseUpdate(ctx context.Context, caseRef string, status string) error {
	return pmsadapter.ErrCapabilityNotSupported
}

func (a *folioOnlyAdapter) SubscribeWebhook(ctx context.Context, callbackURL string, secret string) error {
	return pmsadapter.ErrCapabilityNotSupported
}

func (a *folioOnlyAdapter) Metadata() pmsadapter.Metadata {
	return pmsadapter.Metadata{VendorType: "mock", SupportsDocuments: true}
}

// Regression: re-running collection for a case must not attach a second
// copy of a document whose (case, type, sourceFetchedAt) already exists.
func TestCollectForCaseIdempotentOnRepeatRun(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := integrationTestContext(t)
	db := config.GetDB()

	property, err := models.CreateProperty(ctx, &models.Property{
		Name:     "Dedupe Hotel",
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	ctx = utils.SetPropertyIdInContext(ctx, property.ID)

	integration := models.Integration{
		PropertyId: property.ID,
		VendorType: "mock",
		AuthType:   "api_key",
		Status:     models.IntegrationStatusConnected,
	}
	if err := db.WithContext(ctx).Create(&integration).Error; err != nil {
		t.Fatalf("create integration: %v", err)
	}

	checkIn := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	reservation := models.CanonicalReservation{
		PropertyId:         property.ID,
		IntegrationId:      integration.ID,
		ExternalId:         "RES-100",
		ConfirmationNumber: "CONF-100",
		GuestName:          "Pat Guest",
		CheckInDate:        checkIn,
		CheckOutDate:       checkIn.AddDate(0, 0, 3),
		RateAmount:         decimal.NewFromInt(180),
		TotalAmount:        decimal.NewFromInt(540),
		Currency:           "USD",
		CardLastFour:       "4242",
		Status:             "checked_out",
		SyncSource:         "pull",
	}
	if err := db.WithContext(ctx).Create(&reservation).Error; err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	chargeback := models.Chargeback{
		PropertyId:      property.ID,
		CaseNumber:      "CB-100",
		ReasonCode:      "10.4",
		Status:          models.ChargebackStatusReceived,
		TransactionDate: checkIn,
		Amount:          decimal.NewFromInt(540),
		Currency:        "USD",
		CardLastFour:    "4242",
	}
	if err := db.WithContext(ctx).Create(&chargeback).Error; err != nil {
		t.Fatalf("create chargeback: %v", err)
	}

	match := models.ReservationMatch{
		PropertyId:    property.ID,
		ChargebackId:  chargeback.ID,
		ReservationId: reservation.ID,
		Confidence:    100,
		Strategy:      models.MatchStrategyManual,
		Status:        models.MatchStatusActive,
		MatchedBy:     "test@local",
	}
	if err := db.WithContext(ctx).Create(&match).Error; err != nil {
		t.Fatalf("create match: %v", err)
	}

	adapter := &folioOnlyAdapter{fetchedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := evidence.NewMemoryBlobStore()
	collector := evidence.NewCollector(db, store)

	first, err := collector.CollectForCase(ctx, adapter, property.ID, chargeback.ID, evidence.CollectOptions{Actor: "test@local"})
	if err != nil {
		t.Fatalf("first CollectForCase: %v", err)
	}
	if first.Collected != 1 {
		t.Fatalf("first run collected = %d, want 1", first.Collected)
	}

	second, err := collector.CollectForCase(ctx, adapter, property.ID, chargeback.ID, evidence.CollectOptions{Actor: "test@local"})
	if err != nil {
		t.Fatalf("second CollectForCase: %v", err)
	}
	if second.Collected != 0 {
		t.Fatalf("second run collected = %d, want 0", second.Collected)
	}
	for _, step := range second.Steps {
		if step.Type == models.EvidenceTypeFolio && step.Status != evidence.StepDuplicate {
			t.Fatalf("folio step on second run = %s, want %s", step.Status, evidence.StepDuplicate)
		}
	}

	if store.Len() != 1 {
		t.Fatalf("blob store holds %d objects, want 1", store.Len())
	}
	docs, err := models.ListEvidenceForCase(ctx, db, property.ID, chargeback.ID)
	if err != nil {
		t.Fatalf("ListEvidenceForCase: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("evidence rows = %d, want 1", len(docs))
	}
}
