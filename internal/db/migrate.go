package db

import (
	"fmt"

	"github.com/krellgit/claude-autonomy-tracker/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the tracker persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.DigestRun{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every tracker table and recreates it empty.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}
