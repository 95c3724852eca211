package database

import (
	"gorm.io/gorm"

	"github.com/skillup-labs/skillup-live/internal/models"
)

// AutoMigrate applies the schema for every model owned by the realtime core.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.Project{},
		&models.Internship{},
		&models.LiveSession{},
		&models.SessionParticipant{},
		&models.DeviceSession{},
		&models.RefreshToken{},
		&models.Notification{},
	)
}
