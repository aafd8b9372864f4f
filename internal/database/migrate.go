package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// Models lists every persisted type in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.Student{},
		&models.Praktikum{},
		&models.Enrollment{},
		&models.Setting{},
		&models.Assignment{},
		&models.Problem{},
		&models.TestCase{},
		&models.Submission{},
		&models.TestCaseResult{},
		&models.ScoreOverride{},
		&models.ActivityLog{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
