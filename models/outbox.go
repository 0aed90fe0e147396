package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbound push statuses for OutboundEventRecord.PushStatus.
const (
	OutboundPushStatusPending    = "PENDING"
	OutboundPushStatusProcessing = "PROCESSING"
	OutboundPushStatusSent       = "SENT"
	OutboundPushStatusFailed     = "FAILED"
	OutboundPushStatusDead       = "DEAD"
)

// OutboundEventRecord is the transactional outbox row for case-status
// pushes to two-way vendors. Written inside the status-transition
// transaction; delivered after commit by the outbound dispatcher.
type OutboundEventRecord struct {
	ID            int        `gorm:"primary_key;index:idx_outbound_dispatch,priority:3" json:"id"`
	PropertyId    string     `gorm:"size:64;not null;index" json:"property_id"`
	IntegrationId uint       `gorm:"index;not null" json:"integration_id"`
	ChargebackId  uint       `gorm:"index;not null" json:"chargeback_id"`
	EventType     string     `gorm:"size:50;not null" json:"event_type"`
	Payload       []byte     `gorm:"type:blob" json:"payload"`

	PushStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbound_dispatch,priority:1" json:"push_status"`
	PushedAt      *time.Time `gorm:"index" json:"pushed_at"`
	PushAttempts  int        `gorm:"not null;default:0" json:"push_attempts"`
	NextAttemptAt *time.Time `gorm:"index;index:idx_outbound_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt      *time.Time `gorm:"index" json:"locked_at"`
	LockedBy      *string    `gorm:"size:100" json:"locked_by"`
	LastPushError *string    `gorm:"type:text" json:"last_push_error"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type CaseStatusPushPayload struct {
	CaseId     uint   `json:"case_id"`
	CaseNumber string `json:"case_number"`
	Status     string `json:"status"`
}

// EnqueueCaseStatusPush writes the outbound record inside the caller's DB
// transaction; nothing leaves the process until the dispatcher picks it up.
func EnqueueCaseStatusPush(ctx context.Context, db *gorm.DB, propertyId string, integrationId uint, cb *Chargeback) error {
	payload, err := json.Marshal(CaseStatusPushPayload{
		CaseId:     cb.ID,
		CaseNumber: cb.CaseNumber,
		Status:     cb.Status,
	})
	if err != nil {
		return err
	}
	record := OutboundEventRecord{
		PropertyId:    propertyId,
		IntegrationId: integrationId,
		ChargebackId:  cb.ID,
		EventType:     EntityTypeCaseStatus,
		Payload:       payload,
		PushStatus:    OutboundPushStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
