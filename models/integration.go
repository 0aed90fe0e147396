package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"gorm.io/gorm"
)

// Integration is a connection between a property and one PMS vendor.
// Credentials are AES-GCM encrypted at rest; disconnect clears them.
type Integration struct {
	ID                   uint       `gorm:"primary_key" json:"id"`
	PropertyId           string     `gorm:"index;size:64;not null" json:"property_id"`
	VendorType           string     `gorm:"index;size:50;not null" json:"vendor_type"`
	AuthType             string     `gorm:"size:20" json:"auth_type"`
	Status               string     `gorm:"size:20;not null" json:"status"`
	CredentialsJSON      []byte     `gorm:"type:blob" json:"-"`
	BaseURL              string     `gorm:"size:255" json:"base_url"`
	PropertyCode         string     `gorm:"size:100" json:"property_code"`
	SyncEnabled          *bool      `gorm:"default:true;not null" json:"sync_enabled"`
	TwoWaySync           *bool      `gorm:"default:false;not null" json:"two_way_sync"`
	SyncIntervalMinutes  int        `gorm:"default:15" json:"sync_interval_minutes"`
	WebhookSecret        string     `gorm:"size:128" json:"-"`
	WebhookSubscribed    bool       `gorm:"default:false" json:"webhook_subscribed"`
	ConsecutiveFailures  int        `gorm:"default:0" json:"consecutive_failures"`
	CursorStateJSON      []byte     `gorm:"type:json" json:"cursor_state"`
	SettingsJSON         []byte     `gorm:"type:json" json:"settings"`
	LastSyncAt           *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt    *time.Time `json:"last_success_sync_at"`
	DisconnectedAt       *time.Time `json:"disconnected_at"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func credentialsKey() []byte {
	secret := os.Getenv("CREDENTIALS_KEY")
	if secret == "" {
		secret = "StayShield-Credentials"
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func EncryptCredentials(creds map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(credentialsKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func DecryptCredentials(ciphertext []byte) (map[string]string, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("credentials are empty")
	}
	block, err := aes.NewCipher(credentialsKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("credentials are malformed")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("credentials cannot be decrypted")
	}
	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (i *Integration) SetCredentials(creds map[string]string) error {
	encrypted, err := EncryptCredentials(creds)
	if err != nil {
		return err
	}
	i.CredentialsJSON = encrypted
	return nil
}

func (i *Integration) Credentials() (map[string]string, error) {
	return DecryptCredentials(i.CredentialsJSON)
}

func GetIntegration(ctx context.Context, db *gorm.DB, propertyId string, id uint) (*Integration, error) {
	var integration Integration
	err := db.WithContext(ctx).
		Where("id = ? AND property_id = ?", id, propertyId).
		Take(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &integration, nil
}

func GetIntegrationByVendor(ctx context.Context, db *gorm.DB, propertyId string, vendorType string) (*Integration, error) {
	var integration Integration
	err := db.WithContext(ctx).
		Where("property_id = ? AND vendor_type = ?", propertyId, vendorType).
		Take(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &integration, nil
}

func ListIntegrations(ctx context.Context, db *gorm.DB, propertyId string) ([]Integration, error) {
	var integrations []Integration
	err := db.WithContext(ctx).
		Where("property_id = ?", propertyId).
		Order("id").
		Find(&integrations).Error
	return integrations, err
}

// ListSchedulableIntegrations returns connected integrations with sync
// enabled across all properties; the scheduler runs property-unscoped.
func ListSchedulableIntegrations(ctx context.Context, db *gorm.DB) ([]Integration, error) {
	var integrations []Integration
	err := db.WithContext(ctx).
		Where("status = ? AND sync_enabled = ?", IntegrationStatusConnected, true).
		Order("id").
		Find(&integrations).Error
	return integrations, err
}

// RecordSyncFailure bumps the consecutive-failure counter and trips the
// integration to error once the threshold is crossed.
func RecordSyncFailure(ctx context.Context, db *gorm.DB, integrationId uint, propertyId string, threshold int) (bool, error) {
	if err := db.WithContext(ctx).Model(&Integration{}).
		Where("id = ? AND property_id = ?", integrationId, propertyId).
		UpdateColumn("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error; err != nil {
		return false, err
	}
	var failures int
	if err := db.WithContext(ctx).Model(&Integration{}).
		Where("id = ? AND property_id = ?", integrationId, propertyId).
		Select("consecutive_failures").Scan(&failures).Error; err != nil {
		return false, err
	}
	if threshold > 0 && failures >= threshold {
		if err := db.WithContext(ctx).Model(&Integration{}).
			Where("id = ? AND property_id = ?", integrationId, propertyId).
			Updates(map[string]interface{}{
				"status":     IntegrationStatusError,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func ResetSyncFailures(ctx context.Context, db *gorm.DB, integrationId uint, propertyId string) error {
	return db.WithContext(ctx).Model(&Integration{}).
		Where("id = ? AND property_id = ?", integrationId, propertyId).
		UpdateColumn("consecutive_failures", 0).Error
}

func (i Integration) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Integration:" + i.PropertyId + ":" + i.VendorType)
}
