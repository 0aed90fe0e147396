package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/syncengine"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/gin-gonic/gin"
)

// Regression: triggering a sync must return the started SyncLog row as the
// 202 body, and the queued job must carry that row's id so the worker
// finalizes the caller's receipt instead of opening a second log.
func TestTriggerSyncReturnsStartedSyncLog(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := integrationTestContext(t)
	db := config.GetDB()

	property, err := models.CreateProperty(ctx, &models.Property{
		Name:     "Trigger Hotel",
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	ctx = utils.SetPropertyIdInContext(ctx, property.ID)

	active := true
	user := models.User{
		PropertyId: property.ID,
		Username:   "operator@local",
		Name:       "Operator",
		Password:   "unused",
		IsActive:   &active,
		Role:       models.UserRoleOwner,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	integration := models.Integration{
		PropertyId: property.ID,
		VendorType: "mock",
		AuthType:   "api_key",
		Status:     models.IntegrationStatusConnected,
	}
	if err := db.WithContext(ctx).Create(&integration).Error; err != nil {
		t.Fatalf("create integration: %v", err)
	}

	queued := make(chan syncengine.Job, 1)
	orchestrator := syncengine.NewOrchestrator(func(ctx context.Context, job syncengine.Job) {
		queued <- job
	})
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orchestrator.Start(runCtx, 1)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), user.Username))
		c.Next()
	})
	router.POST("/api/integrations/:id/sync", syncengine.TriggerSyncHandler(orchestrator))

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/integrations/%d/sync?type=full", integration.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var body models.SyncLog
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID == 0 {
		t.Fatal("response carries no sync log id")
	}
	if body.Status != models.SyncLogStatusStarted {
		t.Fatalf("response status = %s, want %s", body.Status, models.SyncLogStatusStarted)
	}
	if body.StartedAt == nil {
		t.Fatal("response carries no started_at")
	}

	stored, err := models.GetSyncLog(ctx, db, property.ID, body.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetSyncLog: %v", err)
	}
	if stored.Status != models.SyncLogStatusStarted {
		t.Fatalf("stored status = %s, want %s", stored.Status, models.SyncLogStatusStarted)
	}

	select {
	case job := <-queued:
		if job.SyncLogId != body.ID {
			t.Fatalf("queued job carries sync log %d, want %d", job.SyncLogId, body.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no job reached the worker")
	}
}
