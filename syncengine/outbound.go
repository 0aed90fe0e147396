package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboundDispatcher drains the outbound event table and delivers case
// status updates to two-way vendors. Rows are claimed with SKIP LOCKED so
// multiple instances can run the loop safely.
type OutboundDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	// deliver is swapped out in tests.
	deliver func(ctx context.Context, integration *models.Integration, payload models.CaseStatusPushPayload) error
}

func NewOutboundDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboundDispatcher {
	d := &OutboundDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
	d.deliver = d.pushToVendor
	return d
}

func (d *OutboundDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboundDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)
	db := d.DB
	if db == nil {
		return
	}
	ctx = utils.SetSkipPropertyScopeInContext(ctx, true)

	var claimed []models.OutboundEventRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher crashed mid-batch)
		q := tx.
			Where(`
				(
					push_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					push_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboundPushStatusPending, models.OutboundPushStatusFailed}, now, models.OutboundPushStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison rows go terminal once the attempt budget is spent.
			if d.MaxAttempts > 0 && claimed[i].PushAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max push attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PushStatus = models.OutboundPushStatusDead
				if err := tx.Model(&models.OutboundEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"push_status":     models.OutboundPushStatusDead,
					"last_push_error": &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PushStatus = models.OutboundPushStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PushAttempts = claimed[i].PushAttempts + 1
			claimed[i].LastPushError = nil
			if err := tx.Model(&models.OutboundEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"push_status":     claimed[i].PushStatus,
				"locked_at":       claimed[i].LockedAt,
				"locked_by":       claimed[i].LockedBy,
				"push_attempts":   gorm.Expr("push_attempts + 1"),
				"last_push_error": nil,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		if rec.PushStatus == models.OutboundPushStatusDead {
			continue
		}
		if err := d.dispatchRecord(ctx, rec); err != nil {
			d.markPushFailed(ctx, rec.ID, rec.PropertyId, err, rec.PushAttempts)
			continue
		}
		d.markPushSent(ctx, rec.ID, now)
	}
}

func (d *OutboundDispatcher) dispatchRecord(ctx context.Context, rec models.OutboundEventRecord) error {
	var payload models.CaseStatusPushPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}

	integration, err := models.GetIntegration(ctx, d.DB, rec.PropertyId, rec.IntegrationId)
	if err != nil {
		return err
	}
	if integration == nil {
		return fmt.Errorf("integration %d not found", rec.IntegrationId)
	}
	if !utils.DereferencePtr(integration.TwoWaySync) {
		return fmt.Errorf("integration %d has two-way sync disabled", rec.IntegrationId)
	}
	if meta, err := pmsadapter.GetMetadata(integration.VendorType); err == nil && !meta.SupportsPush {
		return fmt.Errorf("vendor %s does not support case pushes", integration.VendorType)
	}
	return d.deliver(ctx, integration, payload)
}

func (d *OutboundDispatcher) pushToVendor(ctx context.Context, integration *models.Integration, payload models.CaseStatusPushPayload) error {
	adapter, err := newAdapter(integration)
	if err != nil {
		return err
	}
	if err := adapter.Authenticate(ctx); err != nil {
		return err
	}
	caseRef := payload.CaseNumber
	if caseRef == "" {
		caseRef = fmt.Sprint(payload.CaseId)
	}
	return adapter.PushCaseUpdate(ctx, caseRef, payload.Status)
}

func (d *OutboundDispatcher) markPushSent(ctx context.Context, recordID int, now time.Time) {
	_ = d.DB.WithContext(ctx).Model(&models.OutboundEventRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"push_status":     models.OutboundPushStatusSent,
			"pushed_at":       &now,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

func (d *OutboundDispatcher) markPushFailed(ctx context.Context, recordID int, propertyId string, err error, attempt int) {
	db := d.DB.WithContext(ctx)
	now := time.Now().UTC()
	msg := err.Error()

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.OutboundEventRecord{}).
			Where("id = ?", recordID).
			Updates(map[string]interface{}{
				"push_status":     models.OutboundPushStatusDead,
				"last_push_error": &msg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":       "OutboundDispatcher",
				"property_id": propertyId,
				"record_id":   recordID,
				"attempt":     attempt,
			}).Error("case push moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = db.Model(&models.OutboundEventRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"push_status":     models.OutboundPushStatusFailed,
			"last_push_error": &msg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboundDispatcher",
			"property_id":     propertyId,
			"record_id":       recordID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("case push failed: " + fmt.Sprintf("%v", err))
	}
}
