package syncengine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// VerifyWebhookSignature checks the hex HMAC-SHA256 of the raw body
// against the integration's shared secret.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type webhookEvent struct {
	Event           string `json:"event"`
	ReservationId   string `json:"reservation_id"`
	CaseNumber      string `json:"case_number"`
	ReasonCode      string `json:"reason_code"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	CardBrand       string `json:"card_brand"`
	CardLastFour    string `json:"card_last_four"`
	CardholderName  string `json:"cardholder_name"`
	TransactionDate string `json:"transaction_date"`
	ExternalRef     string `json:"external_ref"`
	EventId         string `json:"event_id"`
}

// WebhookHandler receives vendor notifications. The signature check runs
// before any parsing; a verified event enqueues a priority sync job so it
// jumps ahead of scheduled polling.
func WebhookHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		integrationId, err := strconv.Atoi(c.Param("integrationId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid integration id"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		ctx := utils.SetSkipPropertyScopeInContext(c.Request.Context(), true)
		db := config.GetDB()

		var integration models.Integration
		if err := db.WithContext(ctx).Where("id = ?", integrationId).Take(&integration).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
			return
		}

		if !VerifyWebhookSignature(integration.WebhookSecret, body, c.GetHeader(webhookSignatureHeader)) {
			logger.WithFields(logrus.Fields{
				"integration_id": integration.ID,
				"vendor_type":    integration.VendorType,
			}).Warn("rejected webhook with invalid signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var event webhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			// Acknowledge malformed payloads; the vendor retrying the
			// same bytes will never succeed.
			logger.WithFields(logrus.Fields{
				"integration_id": integration.ID,
			}).Warn("acknowledged malformed webhook payload")
			c.Status(http.StatusNoContent)
			return
		}

		messageId := event.EventId
		if messageId == "" {
			sum := sha256.Sum256(body)
			messageId = hex.EncodeToString(sum[:])
		}
		skip, err := BeginIdempotency(db.WithContext(ctx), integration.PropertyId, "webhook:"+event.Event, messageId)
		if err == ErrIdempotencyInProgress {
			c.JSON(http.StatusConflict, gin.H{"error": "event is being processed"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if skip {
			c.Status(http.StatusNoContent)
			return
		}

		if err := handleWebhookEvent(ctx, db, &integration, event, orchestrator); err != nil {
			_ = MarkIdempotencyFailed(db.WithContext(ctx), integration.PropertyId, "webhook:"+event.Event, messageId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		_ = MarkIdempotencySucceeded(db.WithContext(ctx), integration.PropertyId, "webhook:"+event.Event, messageId)
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	}
}

func handleWebhookEvent(ctx context.Context, db *gorm.DB, integration *models.Integration, event webhookEvent, orchestrator *Orchestrator) error {
	switch event.Event {
	case "reservation_created", "reservation_updated", "folio_updated":
		if strings.TrimSpace(event.ReservationId) == "" {
			return errors.New("event is missing reservation_id")
		}
		orchestrator.Enqueue(Job{
			IntegrationId: integration.ID,
			PropertyId:    integration.PropertyId,
			SyncType:      models.SyncTypeWebhook,
			TriggeredBy:   models.SyncTriggeredWebhook,
			EntityType:    models.EntityTypeReservation,
			ExternalId:    event.ReservationId,
		}, true)
		return nil
	case "chargeback_alert":
		return recordChargebackAlert(ctx, db, integration, event)
	default:
		return errors.New("unknown event type: " + event.Event)
	}
}

func recordChargebackAlert(ctx context.Context, db *gorm.DB, integration *models.Integration, event webhookEvent) error {
	if strings.TrimSpace(event.CaseNumber) == "" {
		return errors.New("chargeback alert is missing case_number")
	}

	var existing models.Chargeback
	err := db.WithContext(ctx).
		Where("property_id = ? AND case_number = ?", integration.PropertyId, event.CaseNumber).
		Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	amount := decimal.Zero
	if event.Amount != "" {
		parsed, err := utils.ParseDecimal(event.Amount)
		if err != nil {
			return errors.New("chargeback alert has an invalid amount")
		}
		amount = parsed
	}
	transactionDate := time.Now()
	if event.TransactionDate != "" {
		if parsed, err := time.Parse("2006-01-02", event.TransactionDate); err == nil {
			transactionDate = parsed
		} else if parsed, err := time.Parse(time.RFC3339, event.TransactionDate); err == nil {
			transactionDate = parsed
		}
	}

	chargeback := models.Chargeback{
		PropertyId:      integration.PropertyId,
		CaseNumber:      event.CaseNumber,
		ReasonCode:      event.ReasonCode,
		Status:          models.ChargebackStatusReceived,
		TransactionDate: transactionDate,
		Amount:          amount,
		Currency:        event.Currency,
		CardBrand:       event.CardBrand,
		CardLastFour:    event.CardLastFour,
		CardholderName:  event.CardholderName,
		ExternalRef:     event.ExternalRef,
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chargeback).Error; err != nil {
			return err
		}
		return tx.Create(&models.CaseTimelineEvent{
			PropertyId:   integration.PropertyId,
			ChargebackId: chargeback.ID,
			EventType:    "chargeback_received",
			Description:  "chargeback alert received from " + integration.VendorType,
			ActorName:    "system",
		}).Error
	})
}
