package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Chargeback is a dispute case raised against a card transaction.
type Chargeback struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	PropertyId      string          `gorm:"index;size:64;not null" json:"property_id"`
	CaseNumber      string          `gorm:"index;size:100" json:"case_number"`
	ReasonCode      string          `gorm:"size:20" json:"reason_code"`
	Status          string          `gorm:"size:30;not null" json:"status"`
	TransactionDate time.Time       `gorm:"index" json:"transaction_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(24,6)" json:"amount"`
	Currency        string          `gorm:"size:3" json:"currency"`
	CardBrand       string          `gorm:"size:20" json:"card_brand"`
	CardLastFour    string          `gorm:"size:4" json:"card_last_four"`
	CardholderName  string          `gorm:"size:255" json:"cardholder_name"`
	ExternalRef     string          `gorm:"size:128" json:"external_ref"`
	DueDate         *time.Time      `json:"due_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReservationMatch links a chargeback to a reservation. Matches are
// append-only; re-matching supersedes the previous active row.
type ReservationMatch struct {
	ID            uint          `gorm:"primary_key" json:"id"`
	PropertyId    string        `gorm:"index;size:64;not null" json:"property_id"`
	ChargebackId  uint          `gorm:"index;not null" json:"chargeback_id"`
	ReservationId uint          `gorm:"index;not null" json:"reservation_id"`
	Confidence    int           `gorm:"not null" json:"confidence"`
	Strategy      MatchStrategy `gorm:"size:30;not null" json:"strategy"`
	Status        string        `gorm:"size:20;not null;default:active" json:"status"`
	MatchedBy     string        `gorm:"size:100" json:"matched_by"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type CaseTimelineEvent struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	PropertyId   string    `gorm:"index;size:64;not null" json:"property_id"`
	ChargebackId uint      `gorm:"index;not null" json:"chargeback_id"`
	EventType    string    `gorm:"size:50;not null" json:"event_type"`
	Description  string    `gorm:"type:text" json:"description"`
	ActorName    string    `gorm:"size:100" json:"actor_name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

var chargebackTransitions = map[string][]string{
	ChargebackStatusReceived:         {ChargebackStatusEvidenceBuilding},
	ChargebackStatusEvidenceBuilding: {ChargebackStatusSubmitted},
	ChargebackStatusSubmitted:        {ChargebackStatusWon, ChargebackStatusLost},
	ChargebackStatusWon:              {},
	ChargebackStatusLost:             {},
}

func ValidateChargebackTransition(from string, to string) error {
	allowed, ok := chargebackTransitions[from]
	if !ok {
		return fmt.Errorf("unknown case status %q", from)
	}
	for _, next := range allowed {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("case status cannot move from %q to %q", from, to)
}

func GetChargeback(ctx context.Context, db *gorm.DB, propertyId string, id uint) (*Chargeback, error) {
	var cb Chargeback
	err := db.WithContext(ctx).
		Where("id = ? AND property_id = ?", id, propertyId).
		Take(&cb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cb, nil
}

// TransitionChargebackStatus applies a validated status change and appends a
// timeline event in one transaction.
func TransitionChargebackStatus(ctx context.Context, db *gorm.DB, propertyId string, id uint, toStatus string, actor string) (*Chargeback, error) {
	var cb Chargeback
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND property_id = ?", id, propertyId).Take(&cb).Error; err != nil {
			return err
		}
		if err := ValidateChargebackTransition(cb.Status, toStatus); err != nil {
			return err
		}
		if err := tx.Model(&cb).Updates(map[string]interface{}{
			"status":     toStatus,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		cb.Status = toStatus
		event := CaseTimelineEvent{
			PropertyId:   propertyId,
			ChargebackId: cb.ID,
			EventType:    "status_changed",
			Description:  fmt.Sprintf("Case moved to %s", toStatus),
			ActorName:    actor,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

func GetActiveMatch(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint) (*ReservationMatch, error) {
	var match ReservationMatch
	err := db.WithContext(ctx).
		Where("chargeback_id = ? AND property_id = ? AND status IN ?", chargebackId, propertyId,
			[]string{MatchStatusActive, MatchStatusConfirmed}).
		Order("id desc").
		Take(&match).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &match, nil
}

// ConfirmMatch marks the active match as manually confirmed.
func ConfirmMatch(ctx context.Context, db *gorm.DB, propertyId string, matchId uint, actor string) error {
	result := db.WithContext(ctx).Model(&ReservationMatch{}).
		Where("id = ? AND property_id = ? AND status = ?", matchId, propertyId, MatchStatusActive).
		Updates(map[string]interface{}{
			"status":     MatchStatusConfirmed,
			"matched_by": actor,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("active match not found")
	}
	return nil
}

func AppendTimelineEvent(ctx context.Context, db *gorm.DB, event *CaseTimelineEvent) error {
	return db.WithContext(ctx).Create(event).Error
}
