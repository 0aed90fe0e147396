package syncengine

import (
	"context"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/sirupsen/logrus"
)

// allowedIntervals are the polling tiers an integration can be configured
// with. Anything else is clamped to the nearest tier.
var allowedIntervals = []int{5, 15, 30, 60}

func ClampInterval(minutes int) int {
	if minutes <= 0 {
		return 15
	}
	best := allowedIntervals[0]
	bestDiff := minutes - best
	if bestDiff < 0 {
		bestDiff = -bestDiff
	}
	for _, tier := range allowedIntervals[1:] {
		diff := minutes - tier
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best = tier
			bestDiff = diff
		}
	}
	return best
}

// Scheduler polls for due integrations and enqueues incremental sync jobs.
// Integrations in error status never appear in the schedulable list, so a
// tripped breaker suspends polling until an operator reconnects.
type Scheduler struct {
	Orchestrator *Orchestrator
	Tick         time.Duration
	Now          func() time.Time
}

func NewScheduler(orchestrator *Orchestrator) *Scheduler {
	return &Scheduler{
		Orchestrator: orchestrator,
		Tick:         time.Minute,
		Now:          time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Tick):
		}
		if !config.InProcessSyncScheduler() {
			continue
		}
		s.scheduleOnce(ctx)
	}
}

func (s *Scheduler) scheduleOnce(ctx context.Context) {
	logger := config.GetLogger()
	db := config.GetDB()
	if db == nil {
		return
	}
	ctx = utils.SetSkipPropertyScopeInContext(ctx, true)

	integrations, err := models.ListSchedulableIntegrations(ctx, db)
	if err != nil {
		config.LogError(logger, moduleName, "scheduleOnce", "failed to list schedulable integrations", nil, err)
		return
	}

	now := s.Now()
	for _, integration := range integrations {
		if !s.due(integration, now) {
			continue
		}
		if s.Orchestrator.Busy(integration.ID) || s.Orchestrator.Depth(integration.ID) > 0 {
			continue
		}
		s.Orchestrator.Enqueue(Job{
			IntegrationId: integration.ID,
			PropertyId:    integration.PropertyId,
			SyncType:      models.SyncTypeIncremental,
			TriggeredBy:   models.SyncTriggeredSystem,
		}, false)
		logger.WithFields(logrus.Fields{
			"integration_id": integration.ID,
			"property_id":    integration.PropertyId,
			"vendor_type":    integration.VendorType,
		}).Info("scheduled incremental sync")
	}
}

func (s *Scheduler) due(integration models.Integration, now time.Time) bool {
	interval := time.Duration(ClampInterval(integration.SyncIntervalMinutes)) * time.Minute
	if integration.LastSyncAt == nil {
		return true
	}
	return now.Sub(*integration.LastSyncAt) >= interval
}
