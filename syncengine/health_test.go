package syncengine

import (
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
)

func TestDeriveHealth(t *testing.T) {
	lastSync := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	integration := &models.Integration{
		ID:         4,
		Status:     models.IntegrationStatusConnected,
		LastSyncAt: &lastSync,
	}
	counts := &models.SyncLogWindowCounts{
		Completed: 9,
		Failed:    2,
		Partial:   1,
		LastLog:   &models.SyncLog{Status: models.SyncLogStatusCompleted},
	}

	health := DeriveHealth(counts, integration)
	if health.SyncsLast24h != 12 {
		t.Fatalf("syncs = %d, want 12", health.SyncsLast24h)
	}
	if health.FailuresLast24h != 2 {
		t.Fatalf("failures = %d, want 2", health.FailuresLast24h)
	}
	if health.SuccessRate != 0.818 {
		t.Fatalf("success rate = %v, want 0.818 (9 completed / 11 completed+failed)", health.SuccessRate)
	}
	if health.LastSyncStatus != models.SyncLogStatusCompleted {
		t.Fatalf("last sync status = %s", health.LastSyncStatus)
	}
	if health.LastSyncAt == nil || !health.LastSyncAt.Equal(lastSync) {
		t.Fatalf("last sync at = %v, want %v", health.LastSyncAt, lastSync)
	}
}

func TestDeriveHealthPartialRunsExcludedFromRate(t *testing.T) {
	integration := &models.Integration{ID: 4, Status: models.IntegrationStatusConnected}
	counts := &models.SyncLogWindowCounts{Completed: 1, Failed: 1, Partial: 2}

	health := DeriveHealth(counts, integration)
	if health.SuccessRate != 0.5 {
		t.Fatalf("success rate = %v, want 0.5 (partials excluded from denominator)", health.SuccessRate)
	}
	if health.SyncsLast24h != 4 {
		t.Fatalf("syncs = %d, want 4", health.SyncsLast24h)
	}
}

func TestDeriveHealthNoHistory(t *testing.T) {
	integration := &models.Integration{ID: 4, Status: models.IntegrationStatusConnected}
	health := DeriveHealth(&models.SyncLogWindowCounts{}, integration)
	if health.SuccessRate != 0 || health.SyncsLast24h != 0 {
		t.Fatalf("expected zeroed health for empty window, got %+v", health)
	}
	if health.LastSyncStatus != "" {
		t.Fatalf("last sync status = %q, want empty", health.LastSyncStatus)
	}
}

func TestClampInterval(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 15},
		{-3, 15},
		{5, 5},
		{7, 5},
		{12, 15},
		{15, 15},
		{25, 30},
		{45, 30},
		{50, 60},
		{240, 60},
	}
	for _, tc := range cases {
		if got := ClampInterval(tc.in); got != tc.want {
			t.Fatalf("ClampInterval(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSchedulerDueRespectsInterval(t *testing.T) {
	s := NewScheduler(NewOrchestrator(nil))
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	never := models.Integration{SyncIntervalMinutes: 15}
	if !s.due(never, now) {
		t.Fatal("integration that never synced should be due")
	}

	recent := now.Add(-5 * time.Minute)
	fresh := models.Integration{SyncIntervalMinutes: 15, LastSyncAt: &recent}
	if s.due(fresh, now) {
		t.Fatal("integration synced 5m ago on a 15m interval should not be due")
	}

	stale := now.Add(-16 * time.Minute)
	overdue := models.Integration{SyncIntervalMinutes: 15, LastSyncAt: &stale}
	if !s.due(overdue, now) {
		t.Fatal("integration synced 16m ago on a 15m interval should be due")
	}
}
