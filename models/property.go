package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"github.com/google/uuid"
)

// Property is the hotel that owns integrations, reservations, and cases.
type Property struct {
	ID           string    `gorm:"primary_key;size:64" json:"id"`
	Name         string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName  string    `gorm:"size:100" json:"contact_name"`
	Email        string    `gorm:"size:255" json:"email"`
	Phone        string    `gorm:"size:20" json:"phone"`
	Address      string    `gorm:"type:text" json:"address"`
	Country      string    `gorm:"size:100" json:"country"`
	City         string    `gorm:"size:100" json:"city"`
	Timezone     string    `gorm:"size:50" json:"timezone"`
	PropertyCode string    `gorm:"size:50" json:"property_code"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

/*
caches:
	Property:$id
*/

func (p Property) StoreRedis() error {
	return config.SetRedisObject("Property:"+p.ID, &p, 0)
}

func (p Property) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Property:" + p.ID)
}

func GetPropertyById(ctx context.Context, id string) (*Property, error) {

	var result Property

	exists, err := config.GetRedisObject("Property:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		adminCtx := utils.SetSkipPropertyScopeInContext(ctx, true)
		err := db.WithContext(adminCtx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func CreateProperty(ctx context.Context, input *Property) (*Property, error) {
	db := config.GetDB()
	if strings.TrimSpace(input.ID) == "" {
		input.ID = uuid.NewString()
	}
	adminCtx := utils.SetSkipPropertyScopeInContext(ctx, true)
	if err := db.WithContext(adminCtx).Create(input).Error; err != nil {
		return nil, err
	}
	return input, nil
}
