package syncengine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/pmsadapter"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type connectRequest struct {
	VendorType          string            `json:"vendorType" binding:"required"`
	Credentials         map[string]string `json:"credentials" binding:"required"`
	BaseURL             string            `json:"baseUrl"`
	PropertyCode        string            `json:"propertyCode"`
	SyncEnabled         *bool             `json:"syncEnabled"`
	TwoWaySync          *bool             `json:"twoWaySync"`
	SyncIntervalMinutes int               `json:"syncIntervalMinutes"`
	WebhookCallbackURL  string            `json:"webhookCallbackUrl"`
}

// VendorCatalogHandler serves the registry's static metadata: which
// vendors exist and what each one supports.
func VendorCatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"vendors": pmsadapter.AllMetadata()})
	}
}

func ConnectHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req connectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		metadata, err := pmsadapter.GetMetadata(req.VendorType)
		if err != nil {
			var unsupported *pmsadapter.UnsupportedVendorError
			if errors.As(err, &unsupported) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":     err.Error(),
					"supported": unsupported.Supported,
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		adapter, err := pmsadapter.CreateAdapter(req.VendorType, pmsadapter.Config{
			BaseURL:      req.BaseURL,
			Credentials:  req.Credentials,
			PropertyId:   propertyId,
			PropertyCode: req.PropertyCode,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		db := config.GetDB()

		integration, err := models.GetIntegrationByVendor(ctx, db, propertyId, metadata.VendorType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if integration == nil {
			integration = &models.Integration{
				PropertyId: propertyId,
				VendorType: metadata.VendorType,
				AuthType:   metadata.AuthType,
			}
		}
		integration.BaseURL = req.BaseURL
		integration.PropertyCode = req.PropertyCode
		integration.Status = models.IntegrationStatusConnecting
		if req.SyncEnabled != nil {
			integration.SyncEnabled = req.SyncEnabled
		} else if integration.SyncEnabled == nil {
			integration.SyncEnabled = utils.NewTrue()
		}
		if req.TwoWaySync != nil {
			integration.TwoWaySync = req.TwoWaySync
		} else if integration.TwoWaySync == nil {
			integration.TwoWaySync = utils.NewFalse()
		}
		integration.SyncIntervalMinutes = ClampInterval(req.SyncIntervalMinutes)
		if err := integration.SetCredentials(req.Credentials); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		integration.ConsecutiveFailures = 0
		integration.DisconnectedAt = nil
		if err := db.WithContext(ctx).Save(integration).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := adapter.Authenticate(ctx); err != nil {
			_ = db.WithContext(ctx).Model(&models.Integration{}).
				Where("id = ?", integration.ID).
				Update("status", models.IntegrationStatusError).Error
			status := http.StatusBadGateway
			if pmsadapter.IsAuthenticationError(err) {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{"error": err.Error(), "vendorType": metadata.VendorType})
			return
		}

		updates := map[string]interface{}{"status": models.IntegrationStatusConnected}
		if metadata.SupportsWebhooks && req.WebhookCallbackURL != "" {
			secret := strings.ReplaceAll(uuid.NewString(), "-", "")
			if err := adapter.SubscribeWebhook(ctx, req.WebhookCallbackURL, secret); err != nil {
				config.LogError(config.GetLogger(), moduleName, "ConnectHandler", "webhook subscription failed", integration.ID, err)
			} else {
				updates["webhook_secret"] = secret
				updates["webhook_subscribed"] = true
			}
		}
		if err := db.WithContext(ctx).Model(&models.Integration{}).
			Where("id = ?", integration.ID).
			Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// First sync is always a full backfill.
		orchestrator.Enqueue(Job{
			IntegrationId: integration.ID,
			PropertyId:    propertyId,
			SyncType:      models.SyncTypeFull,
			TriggeredBy:   models.SyncTriggeredSystem,
		}, false)

		config.GetLogger().WithFields(logrus.Fields{
			"integration_id": integration.ID,
			"property_id":    propertyId,
			"vendor_type":    metadata.VendorType,
		}).Info("integration connected")
		c.JSON(http.StatusOK, gin.H{"id": integration.ID, "status": models.IntegrationStatusConnected})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		integration, ok := integrationFromPath(c, propertyId)
		if !ok {
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		now := time.Now()
		// Soft disconnect: synced data stays, credentials do not.
		err = config.GetDB().WithContext(ctx).Model(&models.Integration{}).
			Where("id = ?", integration.ID).
			Updates(map[string]interface{}{
				"status":             models.IntegrationStatusDisconnected,
				"credentials_json":   nil,
				"sync_enabled":       false,
				"webhook_subscribed": false,
				"disconnected_at":    now,
			}).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = integration.RemoveInstanceRedis()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ReconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		integration, ok := integrationFromPath(c, propertyId)
		if !ok {
			return
		}

		var req struct {
			Credentials map[string]string `json:"credentials"`
		}
		// Body is optional; reconnect without it reuses stored credentials.
		_ = c.ShouldBindJSON(&req)

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		db := config.GetDB()

		if len(req.Credentials) > 0 {
			if err := integration.SetCredentials(req.Credentials); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if err := db.WithContext(ctx).Model(&models.Integration{}).
				Where("id = ?", integration.ID).
				Update("credentials_json", integration.CredentialsJSON).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		adapter, err := newAdapter(integration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := adapter.Authenticate(ctx); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		err = db.WithContext(ctx).Model(&models.Integration{}).
			Where("id = ?", integration.ID).
			Updates(map[string]interface{}{
				"status":               models.IntegrationStatusConnected,
				"sync_enabled":         true,
				"consecutive_failures": 0,
				"disconnected_at":      nil,
			}).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "status": models.IntegrationStatusConnected})
	}
}

func ListIntegrationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		integrations, err := models.ListIntegrations(ctx, config.GetDB(), propertyId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"integrations": integrations})
	}
}

func TriggerSyncHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		integration, ok := integrationFromPath(c, propertyId)
		if !ok {
			return
		}
		if integration.Status != models.IntegrationStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "integration is not connected"})
			return
		}

		syncType := strings.ToLower(strings.TrimSpace(c.Query("type")))
		switch syncType {
		case "":
			syncType = models.SyncTypeIncremental
		case models.SyncTypeFull, models.SyncTypeIncremental:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be full or incremental"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		// The started row is the caller's receipt: its id is what sync-log
		// polling keys on, so it is created here rather than by the worker.
		syncLog, err := models.StartSyncLog(ctx, config.GetDB(), &models.SyncLog{
			IntegrationId: integration.ID,
			PropertyId:    propertyId,
			Direction:     models.SyncDirectionInbound,
			SyncType:      syncType,
			EntityType:    models.EntityTypeReservation,
			TriggeredBy:   models.SyncTriggeredManual,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		job := Job{
			IntegrationId: integration.ID,
			PropertyId:    propertyId,
			SyncType:      syncType,
			TriggeredBy:   models.SyncTriggeredManual,
			SyncLogId:     syncLog.ID,
		}
		if config.PubSubSyncDispatch() {
			if err := PublishSyncRun(ctx, job); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			orchestrator.Enqueue(job, false)
		}
		c.JSON(http.StatusAccepted, syncLog)
	}
}

func SyncStatusHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		integration, ok := integrationFromPath(c, propertyId)
		if !ok {
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		health, err := HealthForIntegration(ctx, config.GetDB(), orchestrator, integration)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, health)
	}
}

func SyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolvePropertyID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		filter := models.SyncLogFilter{
			Direction: strings.TrimSpace(c.Query("direction")),
			Status:    strings.TrimSpace(c.Query("status")),
		}
		if raw := strings.TrimSpace(c.Query("integration_id")); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid integration_id"})
				return
			}
			filter.IntegrationId = uint(id)
		}
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			filter.Limit = limit
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		logs, err := models.QuerySyncLogs(ctx, config.GetDB(), propertyId, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

func integrationFromPath(c *gin.Context, propertyId string) (*models.Integration, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid integration id"})
		return nil, false
	}
	ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
	integration, err := models.GetIntegration(ctx, config.GetDB(), propertyId, uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if integration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return nil, false
	}
	return integration, true
}

func resolvePropertyID(c *gin.Context) (string, string, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", "", errors.New("unauthorized")
	}
	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		return "", "", errors.New("unauthorized")
	}

	propertyId := strings.TrimSpace(c.Query("property_id"))
	if propertyId != "" {
		if user.Role != models.UserRoleAdmin && user.PropertyId != propertyId {
			return "", "", errors.New("unauthorized")
		}
		return propertyId, username, nil
	}
	if strings.TrimSpace(user.PropertyId) == "" {
		return "", "", errors.New("property_id is required")
	}
	return user.PropertyId, username, nil
}
