package utils

import (
	"context"

	"bitbucket.org/stayshield/disputes_backend/config"
)

// check if id exists, using ctx's property_id in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, propertyId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, propertyId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// count records, using WHERE property_id = ? AND $condition
// property_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, propertyId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if propertyId != "" {
		dbCtx.Where("property_id = ?", propertyId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
