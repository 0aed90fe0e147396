package evidence

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
)

const signedURLLifetime = 15 * time.Minute

func CollectEvidenceHandler(store BlobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, username, err := resolveProperty(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chargebackId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chargeback id"})
			return
		}
		force := strings.EqualFold(strings.TrimSpace(c.Query("force")), "true")

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		db := config.GetDB()

		integration, adapter, err := adapterForCase(c, propertyId, uint(chargebackId))
		if err != nil {
			if errors.Is(err, ErrNoLinkedReservation) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := adapter.Authenticate(ctx); err != nil {
			config.LogError(config.GetLogger(), "evidence", "CollectEvidenceHandler", "vendor authentication failed", integration.VendorType, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "vendor authentication failed", "vendorType": integration.VendorType})
			return
		}

		collector := NewCollector(db, store)
		summary, err := collector.CollectForCase(ctx, adapter, propertyId, uint(chargebackId), CollectOptions{
			Force: force,
			Actor: username,
		})
		if err != nil {
			if errors.Is(err, ErrNoLinkedReservation) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func ListEvidenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolveProperty(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chargebackId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chargeback id"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		docs, err := models.ListEvidenceForCase(ctx, config.GetDB(), propertyId, uint(chargebackId))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]gin.H, 0, len(docs))
		for _, doc := range docs {
			items = append(items, gin.H{
				"document":   doc,
				"storageUrl": utils.BuildObjectAccessURL(utils.ExtractObjectKeyFromURL(doc.FileRef)),
			})
		}
		c.JSON(http.StatusOK, gin.H{"evidence": items})
	}
}

func DownloadEvidenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolveProperty(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		chargebackId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chargeback id"})
			return
		}
		docId, err := strconv.Atoi(c.Param("docId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		docs, err := models.ListEvidenceForCase(ctx, config.GetDB(), propertyId, uint(chargebackId))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, doc := range docs {
			if doc.ID != uint(docId) {
				continue
			}
			signed, err := utils.SignDownload(ctx, utils.ExtractObjectKeyFromURL(doc.FileRef), signedURLLifetime)
			if err != nil {
				config.LogError(config.GetLogger(), "evidence", "DownloadEvidenceHandler", "failed to sign download url", doc.FileRef, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign download url"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"url":       signed.URL,
				"expiresAt": signed.ExpiresAt,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "evidence document not found"})
	}
}

func VerifyEvidenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, _, err := resolveProperty(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		docId, err := strconv.Atoi(c.Param("docId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
		var req struct {
			Verified *bool `json:"verified" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		if err := models.SetEvidenceVerified(ctx, config.GetDB(), propertyId, uint(docId), *req.Verified); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// adapterForCase resolves the vendor adapter through the case's linked
// reservation, falling back to an explicit integration_id query param for
// cases matched manually across integrations.
func adapterForCase(c *gin.Context, propertyId string, chargebackId uint) (*models.Integration, pmsadapter.Adapter, error) {
	ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
	db := config.GetDB()

	var integration *models.Integration
	if raw := strings.TrimSpace(c.Query("integration_id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, nil, errors.New("invalid integration_id")
		}
		integration, err = models.GetIntegration(ctx, db, propertyId, uint(id))
		if err != nil {
			return nil, nil, err
		}
	} else {
		match, err := models.GetActiveMatch(ctx, db, propertyId, chargebackId)
		if err != nil {
			return nil, nil, err
		}
		if match == nil {
			return nil, nil, ErrNoLinkedReservation
		}
		reservation, err := models.GetReservation(ctx, db, propertyId, match.ReservationId)
		if err != nil {
			return nil, nil, err
		}
		if reservation == nil {
			return nil, nil, ErrNoLinkedReservation
		}
		integration, err = models.GetIntegration(ctx, db, propertyId, reservation.IntegrationId)
		if err != nil {
			return nil, nil, err
		}
	}
	if integration == nil {
		return nil, nil, errors.New("integration not found")
	}

	credentials, err := integration.Credentials()
	if err != nil {
		return nil, nil, err
	}
	adapter, err := pmsadapter.CreateAdapter(integration.VendorType, pmsadapter.Config{
		BaseURL:      integration.BaseURL,
		Credentials:  credentials,
		PropertyId:   propertyId,
		PropertyCode: integration.PropertyCode,
	})
	if err != nil {
		return nil, nil, err
	}
	return integration, adapter, nil
}

func resolveProperty(c *gin.Context) (string, string, error) {
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
