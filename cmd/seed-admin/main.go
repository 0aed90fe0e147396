// seed-admin creates or updates the admin console user (username: stayshieldAdmin).
// Admin users have role = 'A'; the backend returns role "Admin" for login.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "stayshieldAdmin"
	adminPassword = "St@y$hieldAdmin"
	adminName     = "StayShield Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// Admin users are not scoped to one property, but the user row still
	// needs a property id. Attach the first property, creating a dev one
	// when the database is empty.
	var property models.Property
	err := db.WithContext(utils.SetSkipPropertyScopeInContext(ctx, true)).
		Model(&models.Property{}).Select("id").First(&property).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup property: %v\n", err)
			os.Exit(1)
		}
		created, err := models.CreateProperty(ctx, &models.Property{
			Name:     "Seed Property",
			Timezone: "UTC",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create property: %v\n", err)
			os.Exit(1)
		}
		property = *created
		fmt.Printf("Created property %q (id=%s)\n", property.Name, property.ID)
	}

	ctx = utils.SetPropertyIdInContext(ctx, property.ID)
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipPropertyScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user
		u := models.User{
			Username:   adminUsername,
			Name:       adminName,
			Password:   hashedStr,
			IsActive:   utils.NewTrue(),
			Role:       models.UserRoleAdmin,
			PropertyId: property.ID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		printServiceToken(u.ID)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":    hashedStr,
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"property_id": property.ID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
	printServiceToken(existing.ID)
}

// printServiceToken emits a bearer token for scripted calls against the
// /internal/ops endpoints.
func printServiceToken(userID int) {
	token, err := utils.JwtGenerate(userID, string(models.UserRoleAdmin))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate service token: %v\n", err)
		return
	}
	fmt.Printf("Service token: %s\n", token)
}
