package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncLog is append-only: one row per sync job, started at launch and
// finalized exactly once with completed, failed, or partial.
type SyncLog struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	IntegrationId    uint       `gorm:"index;not null" json:"integration_id"`
	PropertyId       string     `gorm:"index;size:64;not null" json:"property_id"`
	Direction        string     `gorm:"size:10;not null" json:"direction"`
	SyncType         string     `gorm:"size:20;not null" json:"sync_type"`
	EntityType       string     `gorm:"size:50" json:"entity_type"`
	Status           string     `gorm:"index;size:20;not null" json:"status"`
	TriggeredBy      string     `gorm:"size:20" json:"triggered_by"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsFailed    int        `json:"records_failed"`
	StartedAt        *time.Time `gorm:"index" json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	DurationMs       int64      `json:"duration_ms"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

type IntegrationSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncLogId   uint      `gorm:"index;not null" json:"sync_log_id"`
	PropertyId  string    `gorm:"index;size:64;not null" json:"property_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type IntegrationEntityMapping struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	PropertyId    string     `gorm:"uniqueIndex:idx_integration_mapping,priority:1;size:64;not null" json:"property_id"`
	IntegrationId uint       `gorm:"uniqueIndex:idx_integration_mapping,priority:2;not null" json:"integration_id"`
	EntityType    string     `gorm:"uniqueIndex:idx_integration_mapping,priority:3;size:50;not null" json:"entity_type"`
	ExternalId    string     `gorm:"uniqueIndex:idx_integration_mapping,priority:4;size:128;not null" json:"external_id"`
	InternalId    string     `gorm:"size:128;not null" json:"internal_id"`
	LastSeenAt    *time.Time `json:"last_seen_at"`
	MetadataJSON  []byte     `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// StartSyncLog appends the started row for a launching job.
func StartSyncLog(ctx context.Context, db *gorm.DB, log *SyncLog) (*SyncLog, error) {
	now := time.Now()
	log.Status = SyncLogStatusStarted
	log.StartedAt = &now
	if err := db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, err
	}
	return log, nil
}

func GetSyncLog(ctx context.Context, db *gorm.DB, propertyId string, id uint) (*SyncLog, error) {
	var log SyncLog
	err := db.WithContext(ctx).
		Where("id = ? AND property_id = ?", id, propertyId).
		Take(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// FinishSyncLog finalizes a started row. Finished rows are never rewritten.
func FinishSyncLog(ctx context.Context, db *gorm.DB, log *SyncLog, status string, processed int, failed int, errorMessage string) error {
	if log.Status != SyncLogStatusStarted {
		return errors.New("sync log has already been finalized")
	}
	completedAt := time.Now()
	var durationMs int64
	if log.StartedAt != nil {
		durationMs = completedAt.Sub(*log.StartedAt).Milliseconds()
	}
	err := db.WithContext(ctx).Model(log).
		Where("status = ?", SyncLogStatusStarted).
		Updates(map[string]interface{}{
			"status":            status,
			"records_processed": processed,
			"records_failed":    failed,
			"completed_at":      completedAt,
			"duration_ms":       durationMs,
			"error_message":     errorMessage,
		}).Error
	if err != nil {
		return err
	}
	log.Status = status
	log.RecordsProcessed = processed
	log.RecordsFailed = failed
	log.CompletedAt = &completedAt
	log.DurationMs = durationMs
	log.ErrorMessage = errorMessage
	return nil
}

type SyncLogFilter struct {
	IntegrationId uint
	Direction     string
	Status        string
	Limit         int
}

func QuerySyncLogs(ctx context.Context, db *gorm.DB, propertyId string, filter SyncLogFilter) ([]SyncLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	dbCtx := db.WithContext(ctx).Where("property_id = ?", propertyId)
	if filter.IntegrationId > 0 {
		dbCtx = dbCtx.Where("integration_id = ?", filter.IntegrationId)
	}
	if filter.Direction != "" {
		dbCtx = dbCtx.Where("direction = ?", filter.Direction)
	}
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	var logs []SyncLog
	err := dbCtx.Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// SyncLogWindowCounts feeds health derivation over a trailing window.
type SyncLogWindowCounts struct {
	Completed int64
	Failed    int64
	Partial   int64
	LastLog   *SyncLog
}

func CountSyncLogsSince(ctx context.Context, db *gorm.DB, propertyId string, integrationId uint, since time.Time) (*SyncLogWindowCounts, error) {
	counts := &SyncLogWindowCounts{}
	base := db.WithContext(ctx).Model(&SyncLog{}).
		Where("property_id = ? AND integration_id = ? AND started_at >= ?", propertyId, integrationId, since)

	if err := base.Session(&gorm.Session{}).Where("status = ?", SyncLogStatusCompleted).Count(&counts.Completed).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", SyncLogStatusFailed).Count(&counts.Failed).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", SyncLogStatusPartial).Count(&counts.Partial).Error; err != nil {
		return nil, err
	}

	var last SyncLog
	err := db.WithContext(ctx).
		Where("property_id = ? AND integration_id = ?", propertyId, integrationId).
		Order("id desc").
		Take(&last).Error
	if err == nil {
		counts.LastLog = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return counts, nil
}

func CreateSyncError(ctx context.Context, db *gorm.DB, record *IntegrationSyncError) error {
	return db.WithContext(ctx).Create(record).Error
}

func FindMapping(ctx context.Context, db *gorm.DB, propertyId string, integrationId uint, entityType string, externalId string) (*IntegrationEntityMapping, error) {
	var mapping IntegrationEntityMapping
	err := db.WithContext(ctx).
		Where("property_id = ? AND integration_id = ? AND entity_type = ? AND external_id = ?",
			propertyId, integrationId, entityType, externalId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func CreateMapping(ctx context.Context, db *gorm.DB, propertyId string, integrationId uint, entityType string, externalId string, internalId string) error {
	mapping := IntegrationEntityMapping{
		PropertyId:    propertyId,
		IntegrationId: integrationId,
		EntityType:    entityType,
		ExternalId:    externalId,
		InternalId:    internalId,
	}
	return db.WithContext(ctx).Create(&mapping).Error
}

func TouchMapping(ctx context.Context, db *gorm.DB, propertyId string, integrationId uint, entityType string, externalId string, internalId string) error {
	return db.WithContext(ctx).
		Model(&IntegrationEntityMapping{}).
		Where("property_id = ? AND integration_id = ? AND entity_type = ? AND external_id = ?",
			propertyId, integrationId, entityType, externalId).
		Updates(map[string]interface{}{
			"internal_id":  internalId,
			"last_seen_at": time.Now(),
		}).Error
}
