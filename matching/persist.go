package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/stayshield/disputes_backend/models"
	"gorm.io/gorm"
)

// ErrManuallyConfirmed guards manually-confirmed links from silent
// re-matching; callers must pass Force to replace one.
var ErrManuallyConfirmed = errors.New("match is manually confirmed; use force to re-match")

// ErrNoMatch means no strategy produced a candidate above its minimum.
var ErrNoMatch = errors.New("no reservation matched")

// CandidateSource abstracts where match candidates come from so the
// engine stays testable without a database.
type CandidateSource interface {
	Candidates(ctx context.Context, propertyId string, input Input) ([]models.CanonicalReservation, error)
}

// GormCandidateSource pulls stored reservations for the property, pre-
// filtered to a generous date envelope around the transaction.
type GormCandidateSource struct {
	DB *gorm.DB
}

func (s *GormCandidateSource) Candidates(ctx context.Context, propertyId string, input Input) ([]models.CanonicalReservation, error) {
	dbCtx := s.DB.WithContext(ctx).Where("property_id = ?", propertyId)
	if !input.TransactionDate.IsZero() {
		from := input.TransactionDate.Add(-60 * 24 * time.Hour)
		to := input.TransactionDate.Add(30 * 24 * time.Hour)
		dbCtx = dbCtx.Where("check_in_date <= ? AND check_out_date >= ?", to, from)
	}
	var candidates []models.CanonicalReservation
	if err := dbCtx.Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

type MatchOptions struct {
	Force bool
	Actor string
}

// MatchAndPersist runs the engine for a chargeback and records the result.
// Matches are append-only: a prior active match is superseded, never
// mutated, and a manually-confirmed match blocks re-matching without Force.
func MatchAndPersist(ctx context.Context, db *gorm.DB, source CandidateSource, propertyId string, chargebackId uint, opts MatchOptions) (*models.ReservationMatch, error) {
	cb, err := models.GetChargeback(ctx, db, propertyId, chargebackId)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.New("chargeback not found")
	}

	prior, err := models.GetActiveMatch(ctx, db, propertyId, chargebackId)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Status == models.MatchStatusConfirmed && !opts.Force {
		return nil, ErrManuallyConfirmed
	}

	input := Input{
		TransactionDate: cb.TransactionDate,
		Amount:          cb.Amount,
		CardBrand:       cb.CardBrand,
		CardLastFour:    cb.CardLastFour,
		CardholderName:  cb.CardholderName,
		ExternalRef:     cb.ExternalRef,
	}
	candidates, err := source.Candidates(ctx, propertyId, input)
	if err != nil {
		return nil, err
	}

	result := Evaluate(input, candidates)
	if result == nil {
		return nil, ErrNoMatch
	}

	var match *models.ReservationMatch
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prior != nil {
			if err := tx.Model(&models.ReservationMatch{}).
				Where("id = ? AND property_id = ?", prior.ID, propertyId).
				Updates(map[string]interface{}{
					"status":     models.MatchStatusSuperseded,
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
		}
		match = &models.ReservationMatch{
			PropertyId:    propertyId,
			ChargebackId:  chargebackId,
			ReservationId: result.Reservation.ID,
			Confidence:    result.Confidence,
			Strategy:      result.Strategy,
			Status:        models.MatchStatusActive,
			MatchedBy:     opts.Actor,
		}
		if err := tx.Create(match).Error; err != nil {
			return err
		}
		event := models.CaseTimelineEvent{
			PropertyId:   propertyId,
			ChargebackId: chargebackId,
			EventType:    "reservation_matched",
			Description: fmt.Sprintf("Matched reservation %d via %s with confidence %d",
				result.Reservation.ID, result.Strategy, result.Confidence),
			ActorName: opts.Actor,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// LinkManually attaches a reservation chosen by a human, superseding any
// active match.
func LinkManually(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint, reservationId uint, actor string) (*models.ReservationMatch, error) {
	reservation, err := models.GetReservation(ctx, db, propertyId, reservationId)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, errors.New("reservation not found")
	}

	prior, err := models.GetActiveMatch(ctx, db, propertyId, chargebackId)
	if err != nil {
		return nil, err
	}

	var match *models.ReservationMatch
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prior != nil {
			if err := tx.Model(&models.ReservationMatch{}).
				Where("id = ? AND property_id = ?", prior.ID, propertyId).
				Updates(map[string]interface{}{
					"status":     models.MatchStatusSuperseded,
					"updated_at": time.Now(),
				}).Error; err != nil {
				return err
			}
		}
		match = &models.ReservationMatch{
			PropertyId:    propertyId,
			ChargebackId:  chargebackId,
			ReservationId: reservationId,
			Confidence:    100,
			Strategy:      models.MatchStrategyManual,
			Status:        models.MatchStatusConfirmed,
			MatchedBy:     actor,
		}
		if err := tx.Create(match).Error; err != nil {
			return err
		}
		event := models.CaseTimelineEvent{
			PropertyId:   propertyId,
			ChargebackId: chargebackId,
			EventType:    "reservation_matched",
			Description:  fmt.Sprintf("Reservation %d linked manually", reservationId),
			ActorName:    actor,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}
