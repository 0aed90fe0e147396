package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"gorm.io/gorm"
)

var ErrNoLinkedReservation = errors.New("chargeback has no linked reservation")

// collectionPlan is the fixed order evidence types are attempted in. The
// folio always runs first since it anchors the dispute packet.
var collectionPlan = []models.EvidenceType{
	models.EvidenceTypeFolio,
	models.EvidenceTypeAuthSignature,
	models.EvidenceTypeCheckoutSignature,
	models.EvidenceTypePaymentReceipt,
	models.EvidenceTypeIDScan,
	models.EvidenceTypeReservationConfirmation,
}

const (
	StepCollected = "collected"
	StepDuplicate = "duplicate"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
)

type StepResult struct {
	Type   models.EvidenceType `json:"type"`
	Status string              `json:"status"`
	Error  string              `json:"error,omitempty"`
}

type Summary struct {
	ChargebackId  uint         `json:"case_id"`
	ReservationId uint         `json:"reservation_id"`
	Collected     int          `json:"collected"`
	Attempted     int          `json:"attempted"`
	Steps         []StepResult `json:"steps"`
}

type CollectOptions struct {
	Force bool
	Actor string
}

// Collector runs the evidence pipeline for one chargeback case. Retry
// covers individual vendor calls; step failures never abort the run.
type Collector struct {
	DB    *gorm.DB
	Store BlobStore
	Retry pmsadapter.RetryPolicy
	Now   func() time.Time
}

func NewCollector(db *gorm.DB, store BlobStore) *Collector {
	return &Collector{
		DB:    db,
		Store: store,
		Retry: pmsadapter.DefaultRetryPolicy(),
		Now:   time.Now,
	}
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CollectForCase gathers every available evidence type for the case's
// linked reservation. The run is idempotent: re-running attaches nothing
// already collected unless opts.Force is set.
func (c *Collector) CollectForCase(ctx context.Context, adapter pmsadapter.Adapter, propertyId string, chargebackId uint, opts CollectOptions) (*Summary, error) {
	chargeback, err := models.GetChargeback(ctx, c.DB, propertyId, chargebackId)
	if err != nil {
		return nil, err
	}
	if chargeback == nil {
		return nil, gorm.ErrRecordNotFound
	}
	match, err := models.GetActiveMatch(ctx, c.DB, propertyId, chargebackId)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrNoLinkedReservation
	}
	reservation, err := models.GetReservation(ctx, c.DB, propertyId, match.ReservationId)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ErrNoLinkedReservation
	}

	summary := &Summary{ChargebackId: chargebackId, ReservationId: reservation.ID}

	available := map[models.EvidenceType]pmsadapter.DocumentInfo{}
	if adapter.Metadata().SupportsDocuments {
		var infos []pmsadapter.DocumentInfo
		err := c.Retry.Do(ctx, func(ctx context.Context) error {
			var listErr error
			infos, listErr = adapter.ListDocuments(ctx, reservation.ExternalId)
			return listErr
		})
		if err != nil {
			// Without the document listing only the generated folio can run.
			summary.Steps = append(summary.Steps, StepResult{
				Type:   models.EvidenceTypeOther,
				Status: StepFailed,
				Error:  fmt.Sprintf("list documents: %v", err),
			})
		}
		for _, info := range infos {
			evidenceType := mapDocumentType(info.Type)
			if _, taken := available[evidenceType]; !taken {
				available[evidenceType] = info
			}
		}
	}

	for _, evidenceType := range collectionPlan {
		step := c.runStep(ctx, adapter, chargeback, reservation, evidenceType, available, opts)
		summary.Steps = append(summary.Steps, step)
		summary.Attempted++
		if step.Status == StepCollected {
			summary.Collected++
		}
	}

	if err := c.finalize(ctx, chargeback, summary, opts.Actor); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Collector) runStep(ctx context.Context, adapter pmsadapter.Adapter, chargeback *models.Chargeback, reservation *models.CanonicalReservation, evidenceType models.EvidenceType, available map[models.EvidenceType]pmsadapter.DocumentInfo, opts CollectOptions) StepResult {
	info, vendorHas := available[evidenceType]
	if !vendorHas {
		if evidenceType == models.EvidenceTypeFolio && config.GeneratedFolioEvidence() {
			return c.generateFolioStep(ctx, chargeback, reservation, opts)
		}
		return StepResult{Type: evidenceType, Status: StepSkipped}
	}

	var doc *pmsadapter.Document
	err := c.Retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		doc, fetchErr = adapter.FetchDocument(ctx, reservation.ExternalId, info.DocumentId)
		return fetchErr
	})
	if err != nil {
		return StepResult{Type: evidenceType, Status: StepFailed, Error: err.Error()}
	}

	fetchedAt := doc.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = c.now()
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.attach(ctx, chargeback, reservation, evidenceType, models.EvidenceSourceVendor, doc.Data, contentType, fetchedAt, opts)
}

func (c *Collector) generateFolioStep(ctx context.Context, chargeback *models.Chargeback, reservation *models.CanonicalReservation, opts CollectOptions) StepResult {
	lines, err := models.GetFolioLines(ctx, c.DB, chargeback.PropertyId, reservation.ID)
	if err != nil {
		return StepResult{Type: models.EvidenceTypeFolio, Status: StepFailed, Error: err.Error()}
	}
	if len(lines) == 0 {
		return StepResult{Type: models.EvidenceTypeFolio, Status: StepSkipped}
	}
	data, err := GenerateFolioXLSX(reservation, lines)
	if err != nil {
		return StepResult{Type: models.EvidenceTypeFolio, Status: StepFailed, Error: err.Error()}
	}
	// Generated evidence dedupes on content, not fetch time: the fetch
	// timestamp is pinned to the folio's latest posting so an unchanged
	// folio re-run is a duplicate.
	fetchedAt := reservation.UpdatedAt
	for _, line := range lines {
		if line.PostingDate.After(fetchedAt) {
			fetchedAt = line.PostingDate
		}
	}
	return c.attach(ctx, chargeback, reservation, models.EvidenceTypeFolio, models.EvidenceSourceGenerated, data, folioContentTypeXLSX, fetchedAt, opts)
}

func (c *Collector) attach(ctx context.Context, chargeback *models.Chargeback, reservation *models.CanonicalReservation, evidenceType models.EvidenceType, source string, data []byte, contentType string, fetchedAt time.Time, opts CollectOptions) StepResult {
	if !opts.Force {
		existing, err := models.FindEvidenceDocument(ctx, c.DB, chargeback.PropertyId, chargeback.ID, evidenceType, fetchedAt)
		if err != nil {
			return StepResult{Type: evidenceType, Status: StepFailed, Error: err.Error()}
		}
		if existing != nil {
			return StepResult{Type: evidenceType, Status: StepDuplicate}
		}
	}

	digest := sha256.Sum256(data)
	contentSHA := hex.EncodeToString(digest[:])
	objectKey := fmt.Sprintf("evidence/%d/%s", chargeback.ID, contentSHA)

	if err := c.Store.Put(ctx, objectKey, data, contentType); err != nil {
		return StepResult{Type: evidenceType, Status: StepFailed, Error: err.Error()}
	}

	doc := models.EvidenceDocument{
		PropertyId:      chargeback.PropertyId,
		ChargebackId:    chargeback.ID,
		ReservationId:   reservation.ID,
		Type:            evidenceType,
		Source:          source,
		FileRef:         objectKey,
		ContentType:     contentType,
		ContentSHA256:   contentSHA,
		SizeBytes:       int64(len(data)),
		SourceFetchedAt: fetchedAt,
	}
	if err := c.DB.WithContext(ctx).Create(&doc).Error; err != nil {
		return StepResult{Type: evidenceType, Status: StepFailed, Error: err.Error()}
	}
	if opts.Force {
		c.pruneReplaced(ctx, &doc)
	}
	return StepResult{Type: evidenceType, Status: StepCollected}
}

// pruneReplaced drops the documents a forced re-collection superseded.
// Blobs are content-addressed and may be shared, so an object is only
// deleted once no surviving row references it. Failures here never fail
// the step: the new document is already attached.
func (c *Collector) pruneReplaced(ctx context.Context, doc *models.EvidenceDocument) {
	replaced, err := models.DeleteEvidenceOfTypeExcept(ctx, c.DB, doc.PropertyId, doc.ChargebackId, doc.Type, doc.ID)
	if err != nil {
		config.LogError(config.GetLogger(), "evidence", "pruneReplaced", "failed to delete replaced documents", doc.ChargebackId, err)
		return
	}
	for _, old := range replaced {
		if old.FileRef == doc.FileRef {
			continue
		}
		refs, err := models.CountEvidenceByFileRef(ctx, c.DB, doc.PropertyId, old.FileRef)
		if err != nil || refs > 0 {
			continue
		}
		if err := c.Store.Delete(ctx, old.FileRef); err != nil {
			config.LogError(config.GetLogger(), "evidence", "pruneReplaced", "failed to delete replaced blob", old.FileRef, err)
		}
	}
}

func (c *Collector) finalize(ctx context.Context, chargeback *models.Chargeback, summary *Summary, actor string) error {
	if summary.Collected > 0 && chargeback.Status == models.ChargebackStatusReceived {
		if _, err := models.TransitionChargebackStatus(ctx, c.DB, chargeback.PropertyId, chargeback.ID, models.ChargebackStatusEvidenceBuilding, actor); err != nil {
			return err
		}
	}
	return models.AppendTimelineEvent(ctx, c.DB, &models.CaseTimelineEvent{
		PropertyId:   chargeback.PropertyId,
		ChargebackId: chargeback.ID,
		EventType:    "evidence_collected",
		Description:  fmt.Sprintf("%d of %d evidence types collected", summary.Collected, summary.Attempted),
		ActorName:    actor,
	})
}

// mapDocumentType normalizes vendor document type strings onto the
// evidence taxonomy.
func mapDocumentType(vendorType string) models.EvidenceType {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(vendorType), "-", "_")) {
	case "FOLIO", "GUEST_FOLIO", "INVOICE":
		return models.EvidenceTypeFolio
	case "AUTH_SIGNATURE", "REGISTRATION_CARD", "REG_CARD":
		return models.EvidenceTypeAuthSignature
	case "CHECKOUT_SIGNATURE", "CHECKOUT_RECEIPT":
		return models.EvidenceTypeCheckoutSignature
	case "PAYMENT_RECEIPT", "RECEIPT":
		return models.EvidenceTypePaymentReceipt
	case "ID_SCAN", "ID", "PASSPORT_SCAN":
		return models.EvidenceTypeIDScan
	case "RESERVATION_CONFIRMATION", "CONFIRMATION", "BOOKING_CONFIRMATION":
		return models.EvidenceTypeReservationConfirmation
	default:
		return models.EvidenceTypeOther
	}
}
