package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const moduleName = "syncengine"

type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

type CursorState struct {
	Reservations CursorEntry `json:"reservations"`
}

func DecodeCursorState(raw []byte) CursorState {
	var state CursorState
	if len(raw) > 0 {
		_ = utils.UnmarshalFromJSON(raw, &state)
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	raw, _ := utils.MarshalToJSON(state)
	return []byte(raw)
}

// syncRetry wraps every vendor call a sync run makes: transient failures
// back off and retry, permanent ones surface immediately. Swapped out in
// tests.
var syncRetry = pmsadapter.DefaultRetryPolicy()

// errSyncCancelled marks a run aborted because the integration was
// disconnected while the job was in flight. Cancellation is not a vendor
// failure, so the breaker counter stays untouched.
var errSyncCancelled = errors.New("sync cancelled: integration disconnected")

// integrationConnected re-reads the integration row so a disconnect issued
// mid-run cancels the remaining pages. Swapped out in tests.
var integrationConnected = func(ctx context.Context, db *gorm.DB, integration *models.Integration) bool {
	current, err := models.GetIntegration(ctx, db, integration.PropertyId, integration.ID)
	if err != nil || current == nil {
		return true
	}
	return current.Status != models.IntegrationStatusDisconnected
}

// newAdapter builds the vendor adapter from stored integration
// credentials. Swapped out in tests.
var newAdapter = func(integration *models.Integration) (pmsadapter.Adapter, error) {
	credentials, err := integration.Credentials()
	if err != nil {
		return nil, err
	}
	return pmsadapter.CreateAdapter(integration.VendorType, pmsadapter.Config{
		BaseURL:      integration.BaseURL,
		Credentials:  credentials,
		PropertyId:   integration.PropertyId,
		PropertyCode: integration.PropertyCode,
	})
}

func failureThreshold() int {
	if raw := os.Getenv("SYNC_FAILURE_THRESHOLD"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

func searchPageLimit() int {
	if raw := os.Getenv("SYNC_SEARCH_PAGE_LIMIT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 200
}

// RunSyncJob executes one inbound sync job end to end. It is the Exec
// function the orchestrator workers call; errors are recorded on the sync
// log and the integration, never returned to the pool.
func RunSyncJob(ctx context.Context, job Job) {
	logger := config.GetLogger()
	ctx = utils.SetPropertyIdInContext(ctx, job.PropertyId)
	ctx = utils.SetSkipPropertyScopeInContext(ctx, true)
	db := config.GetDB()
	if db == nil {
		return
	}

	integration, err := models.GetIntegration(ctx, db, job.PropertyId, job.IntegrationId)
	if err != nil || integration == nil {
		config.LogError(logger, moduleName, "RunSyncJob", "integration not found", job.IntegrationId, err)
		return
	}
	if integration.Status != models.IntegrationStatusConnected {
		// A job that outlived its integration's disconnect still leaves an
		// audit trail; the breaker counter is not touched.
		if integration.Status == models.IntegrationStatusDisconnected {
			if syncLog, err := syncLogForJob(ctx, db, integration, job); err == nil {
				_ = models.FinishSyncLog(ctx, db, syncLog, models.SyncLogStatusFailed, 0, 0, errSyncCancelled.Error())
			}
		}
		logger.WithFields(logrus.Fields{
			"integration_id": integration.ID,
			"status":         integration.Status,
		}).Info("skipping sync for integration that is not connected")
		return
	}

	lock, err := utils.IntegrationLock(ctx, fmt.Sprint(integration.ID), "SyncRun", moduleName, "RunSyncJob")
	if err == nil && lock != nil {
		defer lock.Release(context.Background())
	}

	syncLog, err := syncLogForJob(ctx, db, integration, job)
	if err != nil {
		config.LogError(logger, moduleName, "RunSyncJob", "failed to start sync log", integration.ID, err)
		return
	}

	adapter, err := newAdapter(integration)
	if err != nil {
		finishFailed(ctx, db, integration, syncLog, err)
		return
	}
	if err := adapter.Authenticate(ctx); err != nil {
		// Auth failures halt scheduling immediately instead of burning
		// through the failure budget.
		if pmsadapter.IsAuthenticationError(err) {
			_ = db.WithContext(ctx).Model(&models.Integration{}).
				Where("id = ?", integration.ID).
				Updates(map[string]interface{}{"status": models.IntegrationStatusError}).Error
		}
		finishFailed(ctx, db, integration, syncLog, err)
		return
	}

	var processed, failed int
	cursorState := DecodeCursorState(integration.CursorStateJSON)

	switch {
	case job.SyncType == models.SyncTypeWebhook && job.ExternalId != "":
		processed, failed, err = syncSingleReservation(ctx, db, integration, adapter, syncLog.ID, job.ExternalId)
	default:
		var entry CursorEntry
		processed, failed, entry, err = syncReservations(ctx, db, integration, adapter, syncLog.ID, job.SyncType, cursorState.Reservations)
		if err == nil {
			cursorState.Reservations = entry
		}
	}
	if err != nil {
		if errors.Is(err, errSyncCancelled) {
			if ferr := models.FinishSyncLog(ctx, db, syncLog, models.SyncLogStatusFailed, processed, failed, err.Error()); ferr != nil {
				config.LogError(logger, moduleName, "RunSyncJob", "failed to finalize cancelled sync log", syncLog.ID, ferr)
			}
			return
		}
		finishFailed(ctx, db, integration, syncLog, err)
		return
	}

	status := models.SyncLogStatusCompleted
	if failed > 0 && processed == 0 {
		status = models.SyncLogStatusFailed
	} else if failed > 0 {
		status = models.SyncLogStatusPartial
	}
	if err := models.FinishSyncLog(ctx, db, syncLog, status, processed, failed, ""); err != nil {
		config.LogError(logger, moduleName, "RunSyncJob", "failed to finalize sync log", syncLog.ID, err)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_sync_at":      now,
		"cursor_state_json": EncodeCursorState(cursorState),
	}
	if status != models.SyncLogStatusFailed {
		updates["last_success_sync_at"] = now
	}
	if err := db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integration.ID).
		Updates(updates).Error; err != nil {
		config.LogError(logger, moduleName, "RunSyncJob", "failed to update integration cursor", integration.ID, err)
	}

	if status == models.SyncLogStatusFailed {
		bumpFailureCounter(ctx, db, integration)
		return
	}
	if err := models.ResetSyncFailures(ctx, db, integration.ID, integration.PropertyId); err != nil {
		config.LogError(logger, moduleName, "RunSyncJob", "failed to reset failure counter", integration.ID, err)
	}
}

// syncLogForJob resumes the started row the trigger endpoint handed the
// caller, or opens a fresh one for scheduler and webhook jobs.
func syncLogForJob(ctx context.Context, db *gorm.DB, integration *models.Integration, job Job) (*models.SyncLog, error) {
	if job.SyncLogId != 0 {
		existing, err := models.GetSyncLog(ctx, db, integration.PropertyId, job.SyncLogId)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == models.SyncLogStatusStarted {
			return existing, nil
		}
	}
	return models.StartSyncLog(ctx, db, &models.SyncLog{
		IntegrationId: integration.ID,
		PropertyId:    integration.PropertyId,
		Direction:     models.SyncDirectionInbound,
		SyncType:      job.SyncType,
		EntityType:    models.EntityTypeReservation,
		TriggeredBy:   job.TriggeredBy,
	})
}

func finishFailed(ctx context.Context, db *gorm.DB, integration *models.Integration, syncLog *models.SyncLog, cause error) {
	logger := config.GetLogger()
	config.LogError(logger, moduleName, "RunSyncJob", "sync job failed", integration.ID, cause)
	if err := models.FinishSyncLog(ctx, db, syncLog, models.SyncLogStatusFailed, 0, 0, cause.Error()); err != nil {
		config.LogError(logger, moduleName, "finishFailed", "failed to finalize sync log", syncLog.ID, err)
	}
	_ = db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integration.ID).
		Update("last_sync_at", time.Now()).Error
	bumpFailureCounter(ctx, db, integration)
}

func bumpFailureCounter(ctx context.Context, db *gorm.DB, integration *models.Integration) {
	tripped, err := models.RecordSyncFailure(ctx, db, integration.ID, integration.PropertyId, failureThreshold())
	if err != nil {
		config.LogError(config.GetLogger(), moduleName, "bumpFailureCounter", "failed to record sync failure", integration.ID, err)
		return
	}
	if tripped {
		config.GetLogger().WithFields(logrus.Fields{
			"integration_id": integration.ID,
			"property_id":    integration.PropertyId,
			"vendor_type":    integration.VendorType,
		}).Warn("integration suspended after consecutive sync failures")
	}
}

func syncReservations(ctx context.Context, db *gorm.DB, integration *models.Integration, adapter pmsadapter.Adapter, syncLogId uint, syncType string, cursor CursorEntry) (int, int, CursorEntry, error) {
	updatedSince := strings.TrimSpace(cursor.UpdatedSince)
	if syncType == models.SyncTypeFull {
		updatedSince = ""
		cursor.Cursor = ""
	}
	if syncType == models.SyncTypeIncremental && updatedSince == "" && integration.LastSuccessSyncAt != nil {
		updatedSince = integration.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}

	nextCursor := strings.TrimSpace(cursor.Cursor)
	processed := 0
	failed := 0
	fetchFolios := supportsFolios(adapter)
	windowStart := time.Now().UTC().Format(time.RFC3339)

	for {
		if !integrationConnected(ctx, db, integration) {
			return processed, failed, CursorEntry{UpdatedSince: updatedSince, Cursor: nextCursor}, errSyncCancelled
		}
		var result *pmsadapter.SearchResult
		err := syncRetry.Do(ctx, func(ctx context.Context) error {
			var searchErr error
			result, searchErr = adapter.SearchReservations(ctx, pmsadapter.SearchCriteria{
				UpdatedSince: updatedSince,
				Cursor:       nextCursor,
				Limit:        searchPageLimit(),
			})
			return searchErr
		})
		if err != nil {
			return processed, failed, CursorEntry{UpdatedSince: updatedSince, Cursor: nextCursor}, err
		}

		for i := range result.Reservations {
			if err := ingestReservation(ctx, db, integration, adapter, syncLogId, &result.Reservations[i], fetchFolios); err != nil {
				failed++
				continue
			}
			processed++
		}

		if !result.HasMore || result.NextCursor == "" {
			// Page cursor is spent; the next incremental run starts from
			// this run's launch time.
			return processed, failed, CursorEntry{UpdatedSince: windowStart, Cursor: ""}, nil
		}
		nextCursor = result.NextCursor
	}
}

func syncSingleReservation(ctx context.Context, db *gorm.DB, integration *models.Integration, adapter pmsadapter.Adapter, syncLogId uint, externalId string) (int, int, error) {
	var reservation *pmsadapter.Reservation
	err := syncRetry.Do(ctx, func(ctx context.Context) error {
		var getErr error
		reservation, getErr = adapter.GetReservation(ctx, externalId)
		return getErr
	})
	if err != nil {
		return 0, 0, err
	}
	if err := ingestReservation(ctx, db, integration, adapter, syncLogId, reservation, supportsFolios(adapter)); err != nil {
		return 0, 1, nil
	}
	return 1, 0, nil
}

func ingestReservation(ctx context.Context, db *gorm.DB, integration *models.Integration, adapter pmsadapter.Adapter, syncLogId uint, wire *pmsadapter.Reservation, fetchFolio bool) error {
	externalId := strings.TrimSpace(wire.ExternalId)
	if externalId == "" {
		recordSyncError(ctx, db, syncLogId, integration.PropertyId, models.EntityTypeReservation, "", "missing_id", errors.New("reservation external id missing"), false)
		return errors.New("reservation external id missing")
	}

	stored, err := models.UpsertReservation(ctx, db, &models.CanonicalReservation{
		IntegrationId:      integration.ID,
		PropertyId:         integration.PropertyId,
		ExternalId:         externalId,
		ConfirmationNumber: wire.ConfirmationNumber,
		GuestName:          wire.GuestName,
		GuestEmail:         normalizeGuestEmail(wire.GuestEmail),
		GuestPhone:         utils.NormalizePhoneNumber(wire.GuestPhone, ""),
		CheckInDate:        wire.CheckInDate,
		CheckOutDate:       wire.CheckOutDate,
		ActualCheckIn:      wire.ActualCheckIn,
		ActualCheckOut:     wire.ActualCheckOut,
		RoomNumber:         wire.RoomNumber,
		RoomType:           wire.RoomType,
		RateCode:           wire.RateCode,
		RateAmount:         wire.RateAmount,
		TotalAmount:        wire.TotalAmount,
		Currency:           wire.Currency,
		CardBrand:          wire.CardBrand,
		CardLastFour:       wire.CardLastFour,
		BookingSource:      wire.BookingSource,
		Status:             wire.Status,
		SyncSource:         integration.VendorType,
	})
	if err != nil {
		recordSyncError(ctx, db, syncLogId, integration.PropertyId, models.EntityTypeReservation, externalId, "sync_failed", err, true)
		return err
	}

	if err := touchReservationMapping(ctx, db, integration, externalId, stored.ID); err != nil {
		recordSyncError(ctx, db, syncLogId, integration.PropertyId, models.EntityTypeReservation, externalId, "mapping_failed", err, true)
	}

	if fetchFolio {
		if err := ingestFolio(ctx, db, integration, adapter, syncLogId, externalId, stored.ID); err != nil {
			// Folio failures degrade the record, not the run.
			recordSyncError(ctx, db, syncLogId, integration.PropertyId, models.EntityTypeFolio, externalId, "folio_sync_failed", err, true)
		}
	}
	return nil
}

// normalizeGuestEmail drops addresses the vendor sent malformed so the
// matcher never keys on garbage.
func normalizeGuestEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !utils.IsValidEmail(email) {
		return ""
	}
	return email
}

func ingestFolio(ctx context.Context, db *gorm.DB, integration *models.Integration, adapter pmsadapter.Adapter, syncLogId uint, externalId string, reservationId uint) error {
	var folio *pmsadapter.Folio
	err := syncRetry.Do(ctx, func(ctx context.Context) error {
		var folioErr error
		folio, folioErr = adapter.GetFolio(ctx, externalId)
		return folioErr
	})
	if err != nil {
		if errors.Is(err, pmsadapter.ErrCapabilityNotSupported) {
			return nil
		}
		return err
	}

	lines := make([]models.FolioLineItem, 0, len(folio.Lines))
	for _, line := range folio.Lines {
		currency := line.Currency
		if currency == "" {
			currency = folio.Currency
		}
		lines = append(lines, models.FolioLineItem{
			ReservationId:   reservationId,
			PropertyId:      integration.PropertyId,
			PostingDate:     line.PostingDate,
			Category:        models.FolioCategory(line.Category),
			Description:     line.Description,
			Amount:          line.Amount,
			TransactionCode: line.TransactionCode,
			AuthCode:        line.AuthCode,
			Currency:        currency,
		})
	}
	if err := models.ReplaceFolioLines(ctx, db, reservationId, integration.PropertyId, lines); err != nil {
		return err
	}
	if err := models.ReconcileFolioBalance(lines, folio.ReportedBalance); err != nil {
		recordSyncError(ctx, db, syncLogId, integration.PropertyId, models.EntityTypeFolio, externalId, "balance_mismatch", err, false)
	}
	return nil
}

func touchReservationMapping(ctx context.Context, db *gorm.DB, integration *models.Integration, externalId string, internalId uint) error {
	existing, err := models.FindMapping(ctx, db, integration.PropertyId, integration.ID, models.EntityTypeReservation, externalId)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.CreateMapping(ctx, db, integration.PropertyId, integration.ID, models.EntityTypeReservation, externalId, fmt.Sprint(internalId))
	}
	return models.TouchMapping(ctx, db, integration.PropertyId, integration.ID, models.EntityTypeReservation, externalId, fmt.Sprint(internalId))
}

func recordSyncError(ctx context.Context, db *gorm.DB, syncLogId uint, propertyId string, entityType string, externalId string, code string, cause error, retryable bool) {
	record := &models.IntegrationSyncError{
		SyncLogId:  syncLogId,
		PropertyId: propertyId,
		EntityType: entityType,
		ExternalId: externalId,
		ErrorCode:  code,
		Retryable:  retryable,
	}
	if cause != nil {
		record.Message = cause.Error()
	}
	if err := models.CreateSyncError(ctx, db, record); err != nil {
		config.LogError(config.GetLogger(), moduleName, "recordSyncError", "failed to persist sync error", externalId, err)
	}
}

func supportsFolios(adapter pmsadapter.Adapter) bool {
	for _, feature := range adapter.Metadata().Features {
		if strings.EqualFold(feature, "folios") {
			return true
		}
	}
	return false
}
