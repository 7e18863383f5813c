package repository

import (
	"fmt"

	"github.com/amirphl/metal-price-sync/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables owned by this service
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.PriceRun{}); err != nil {
		return fmt.Errorf("failed to migrate price_runs: %w", err)
	}
	return nil
}
