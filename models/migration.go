package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or alters every table this service owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&ContractTemplate{},
		&Contract{},
		&History{},
		&IdempotencyKey{},
		&Invoice{},
		&NotificationTemplate{},
		&OutboxEvent{},
		&Payment{},
		&Reservation{},
		&Sequence{},
		&User{},
	)
}
