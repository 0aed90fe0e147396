package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CanonicalReservation is the vendor-neutral reservation row populated by
// inbound sync. (integration_id, external_id) is the upsert key.
type CanonicalReservation struct {
	ID                 uint            `gorm:"primary_key" json:"id"`
	IntegrationId      uint            `gorm:"uniqueIndex:idx_reservation_external,priority:1;not null" json:"integration_id"`
	PropertyId         string          `gorm:"index;size:64;not null" json:"property_id"`
	ExternalId         string          `gorm:"uniqueIndex:idx_reservation_external,priority:2;size:128;not null" json:"external_id"`
	ConfirmationNumber string          `gorm:"index;size:100" json:"confirmation_number"`
	GuestName          string          `gorm:"size:255" json:"guest_name"`
	GuestEmail         string          `gorm:"size:255" json:"guest_email"`
	GuestPhone         string          `gorm:"size:50" json:"guest_phone"`
	CheckInDate        time.Time       `gorm:"index" json:"check_in_date"`
	CheckOutDate       time.Time       `gorm:"index" json:"check_out_date"`
	ActualCheckIn      *time.Time      `json:"actual_check_in"`
	ActualCheckOut     *time.Time      `json:"actual_check_out"`
	RoomNumber         string          `gorm:"size:20" json:"room_number"`
	RoomType           string          `gorm:"size:100" json:"room_type"`
	RateCode           string          `gorm:"size:50" json:"rate_code"`
	RateAmount         decimal.Decimal `gorm:"type:decimal(24,6)" json:"rate_amount"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(24,6)" json:"total_amount"`
	Currency           string          `gorm:"size:3" json:"currency"`
	CardBrand          string          `gorm:"size:20" json:"card_brand"`
	CardLastFour       string          `gorm:"index;size:4" json:"card_last_four"`
	BookingSource      string          `gorm:"size:100" json:"booking_source"`
	Status             string          `gorm:"size:20" json:"status"`
	IsFlagged          *bool           `gorm:"default:false;not null" json:"is_flagged"`
	SyncSource         string          `gorm:"size:20" json:"sync_source"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type FolioLineItem struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	ReservationId   uint            `gorm:"index;not null" json:"reservation_id"`
	PropertyId      string          `gorm:"index;size:64;not null" json:"property_id"`
	PostingDate     time.Time       `gorm:"index" json:"posting_date"`
	Category        FolioCategory   `gorm:"type:enum('ROOM','TAX_FEE','FOOD_BEVERAGE','INCIDENTAL','PAYMENT','ADJUSTMENT','OTHER');default:OTHER" json:"category"`
	Description     string          `gorm:"size:255" json:"description"`
	Amount          decimal.Decimal `gorm:"type:decimal(24,6)" json:"amount"`
	TransactionCode string          `gorm:"size:50" json:"transaction_code"`
	AuthCode        string          `gorm:"size:50" json:"auth_code"`
	Currency        string          `gorm:"size:3" json:"currency"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// FolioBalanceTolerance is the rounding slack allowed when the folio sum is
// checked against the vendor-reported balance.
var FolioBalanceTolerance = decimal.NewFromFloat(0.01)

type FolioLineWithBalance struct {
	FolioLineItem
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// ComputeRunningBalances orders lines chronologically and attaches the
// cumulative sum. The balance is derived, never stored.
func ComputeRunningBalances(lines []FolioLineItem) []FolioLineWithBalance {
	sorted := make([]FolioLineItem, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PostingDate.Equal(sorted[j].PostingDate) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].PostingDate.Before(sorted[j].PostingDate)
	})

	out := make([]FolioLineWithBalance, 0, len(sorted))
	balance := decimal.Zero
	for _, line := range sorted {
		balance = balance.Add(line.Amount)
		out = append(out, FolioLineWithBalance{FolioLineItem: line, RunningBalance: balance})
	}
	return out
}

// ReconcileFolioBalance verifies the folio sum matches the reported balance
// within tolerance.
func ReconcileFolioBalance(lines []FolioLineItem, reportedBalance decimal.Decimal) error {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Amount)
	}
	if sum.Sub(reportedBalance).Abs().GreaterThan(FolioBalanceTolerance) {
		return errors.New("folio line items do not reconcile with reported balance")
	}
	return nil
}

// UpsertReservation inserts or updates by (integration_id, external_id).
func UpsertReservation(ctx context.Context, db *gorm.DB, input *CanonicalReservation) (*CanonicalReservation, error) {
	var existing CanonicalReservation
	err := db.WithContext(ctx).
		Where("integration_id = ? AND external_id = ?", input.IntegrationId, input.ExternalId).
		Take(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err := db.WithContext(ctx).Create(input).Error; err != nil {
			return nil, err
		}
		return input, nil
	}

	input.ID = existing.ID
	input.CreatedAt = existing.CreatedAt
	if err := db.WithContext(ctx).Model(&existing).Select("*").
		Omit("id", "created_at").Updates(input).Error; err != nil {
		return nil, err
	}
	return input, nil
}

// ReplaceFolioLines swaps the folio for a reservation atomically. Vendors
// return full folios, not deltas, so replace is the safe idempotent write.
func ReplaceFolioLines(ctx context.Context, db *gorm.DB, reservationId uint, propertyId string, lines []FolioLineItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reservation_id = ? AND property_id = ?", reservationId, propertyId).
			Delete(&FolioLineItem{}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].ID = 0
			lines[i].ReservationId = reservationId
			lines[i].PropertyId = propertyId
		}
		if len(lines) == 0 {
			return nil
		}
		return tx.Create(&lines).Error
	})
}

func GetReservation(ctx context.Context, db *gorm.DB, propertyId string, id uint) (*CanonicalReservation, error) {
	var reservation CanonicalReservation
	err := db.WithContext(ctx).
		Where("id = ? AND property_id = ?", id, propertyId).
		Take(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func GetFolioLines(ctx context.Context, db *gorm.DB, propertyId string, reservationId uint) ([]FolioLineItem, error) {
	var lines []FolioLineItem
	err := db.WithContext(ctx).
		Where("reservation_id = ? AND property_id = ?", reservationId, propertyId).
		Order("posting_date, id").
		Find(&lines).Error
	return lines, err
}
