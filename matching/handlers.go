package matching

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/gin-gonic/gin"
)

func MatchChargebackHandler() gin.HandlerFunc {
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
		source := &GormCandidateSource{DB: db}

		match, err := MatchAndPersist(ctx, db, source, propertyId, uint(chargebackId), MatchOptions{
			Force: force,
			Actor: username,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrNoMatch):
				c.JSON(http.StatusOK, gin.H{"matched": false})
			case errors.Is(err, ErrManuallyConfirmed):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"matched":       true,
			"matchId":       match.ID,
			"reservationId": match.ReservationId,
			"confidence":    match.Confidence,
			"strategy":      match.Strategy,
		})
	}
}

func GetActiveMatchHandler() gin.HandlerFunc {
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
		match, err := models.GetActiveMatch(ctx, config.GetDB(), propertyId, uint(chargebackId))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if match == nil {
			c.JSON(http.StatusOK, gin.H{"matched": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matched": true, "match": match})
	}
}

func LinkManuallyHandler() gin.HandlerFunc {
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

		var req struct {
			ReservationId uint `json:"reservationId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		if err := utils.ValidateResourceId[models.CanonicalReservation](ctx, propertyId, req.ReservationId); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		match, err := LinkManually(ctx, config.GetDB(), propertyId, uint(chargebackId), req.ReservationId, username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matchId": match.ID})
	}
}

func ConfirmMatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		propertyId, username, err := resolveProperty(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		matchId, err := strconv.Atoi(c.Param("matchId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
			return
		}

		ctx := utils.SetPropertyIdInContext(c.Request.Context(), propertyId)
		if err := models.ConfirmMatch(ctx, config.GetDB(), propertyId, uint(matchId), username); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
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
