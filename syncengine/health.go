package syncengine

import (
	"context"
	"math"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"gorm.io/gorm"
)

// Health is the derived view served by the status endpoint. Success rate
// is completed / (completed + failed); partial runs count toward activity
// but not the rate.
type Health struct {
	IntegrationId   uint       `json:"integration_id"`
	Status          string     `json:"status"`
	SuccessRate     float64    `json:"success_rate"`
	SyncsLast24h    int64      `json:"syncs_last_24h"`
	FailuresLast24h int64      `json:"failures_last_24h"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	LastSyncStatus  string     `json:"last_sync_status"`
	QueueDepth      int        `json:"queue_depth"`
	SyncRunning     bool       `json:"sync_running"`
}

func DeriveHealth(counts *models.SyncLogWindowCounts, integration *models.Integration) Health {
	health := Health{
		IntegrationId: integration.ID,
		Status:        integration.Status,
		LastSyncAt:    integration.LastSyncAt,
	}
	if counts == nil {
		return health
	}

	health.SyncsLast24h = counts.Completed + counts.Failed + counts.Partial
	health.FailuresLast24h = counts.Failed
	if denom := counts.Completed + counts.Failed; denom > 0 {
		rate := float64(counts.Completed) / float64(denom)
		health.SuccessRate = math.Round(rate*1000) / 1000
	}
	if counts.LastLog != nil {
		health.LastSyncStatus = counts.LastLog.Status
	}
	return health
}

func HealthForIntegration(ctx context.Context, db *gorm.DB, orchestrator *Orchestrator, integration *models.Integration) (Health, error) {
	counts, err := models.CountSyncLogsSince(ctx, db, integration.PropertyId, integration.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return Health{}, err
	}
	health := DeriveHealth(counts, integration)
	if orchestrator != nil {
		health.QueueDepth = orchestrator.Depth(integration.ID)
		health.SyncRunning = orchestrator.Busy(integration.ID)
	}
	return health, nil
}
