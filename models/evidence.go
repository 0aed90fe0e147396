package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// EvidenceDocument is immutable once attached except for the verified flag.
// FileRef is a content-addressed object key; ContentSHA256 backs dedupe.
type EvidenceDocument struct {
	ID             uint         `gorm:"primary_key" json:"id"`
	PropertyId     string       `gorm:"index;size:64;not null" json:"property_id"`
	ChargebackId   uint         `gorm:"index;not null" json:"case_id"`
	ReservationId  uint         `gorm:"index" json:"reservation_id"`
	Type           EvidenceType `gorm:"size:40;not null" json:"type"`
	Source         string       `gorm:"size:20;not null;default:vendor" json:"source"`
	FileRef        string       `gorm:"size:512;not null" json:"file_ref"`
	ContentType    string       `gorm:"size:100" json:"content_type"`
	ContentSHA256  string       `gorm:"index;size:64" json:"content_sha256"`
	SizeBytes      int64        `json:"size_bytes"`
	SourceFetchedAt time.Time   `gorm:"index" json:"source_fetched_at"`
	Verified       *bool        `gorm:"default:false;not null" json:"verified"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func ListEvidenceForCase(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint) ([]EvidenceDocument, error) {
	var docs []EvidenceDocument
	err := db.WithContext(ctx).
		Where("chargeback_id = ? AND property_id = ?", chargebackId, propertyId).
		Order("id").
		Find(&docs).Error
	return docs, err
}

// FindEvidenceDocument checks dedupe identity (case, type, sourceFetchedAt).
func FindEvidenceDocument(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint, docType EvidenceType, sourceFetchedAt time.Time) (*EvidenceDocument, error) {
	var doc EvidenceDocument
	err := db.WithContext(ctx).
		Where("chargeback_id = ? AND property_id = ? AND type = ? AND source_fetched_at = ?",
			chargebackId, propertyId, docType, sourceFetchedAt).
		Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// DeleteEvidenceOfTypeExcept removes prior documents of one type for a
// case, keeping the row identified by keepId. The deleted rows are
// returned so the caller can prune blobs nothing references anymore.
func DeleteEvidenceOfTypeExcept(ctx context.Context, db *gorm.DB, propertyId string, chargebackId uint, docType EvidenceType, keepId uint) ([]EvidenceDocument, error) {
	var old []EvidenceDocument
	err := db.WithContext(ctx).
		Where("chargeback_id = ? AND property_id = ? AND type = ? AND id <> ?",
			chargebackId, propertyId, docType, keepId).
		Find(&old).Error
	if err != nil || len(old) == 0 {
		return nil, err
	}
	ids := make([]uint, 0, len(old))
	for _, doc := range old {
		ids = append(ids, doc.ID)
	}
	if err := db.WithContext(ctx).Where("id IN ?", ids).Delete(&EvidenceDocument{}).Error; err != nil {
		return nil, err
	}
	return old, nil
}

func CountEvidenceByFileRef(ctx context.Context, db *gorm.DB, propertyId string, fileRef string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&EvidenceDocument{}).
		Where("property_id = ? AND file_ref = ?", propertyId, fileRef).
		Count(&count).Error
	return count, err
}

func SetEvidenceVerified(ctx context.Context, db *gorm.DB, propertyId string, id uint, verified bool) error {
	result := db.WithContext(ctx).Model(&EvidenceDocument{}).
		Where("id = ? AND property_id = ?", id, propertyId).
		Update("verified", verified)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("evidence document not found")
	}
	return nil
}
