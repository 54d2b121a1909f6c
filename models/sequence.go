package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	sequenceReservation = "reservation"
	sequenceContract    = "contract"
	sequenceInvoice     = "invoice"
)

// Sequence is a named counter bumped inside the writing transaction, so a rolled back
// write never burns a number visible to anyone else.
type Sequence struct {
	Name      string    `gorm:"primaryKey;size:50" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func nextSequence(tx *gorm.DB, name string) (int64, error) {
	res := tx.Model(&Sequence{}).Where("name = ?", name).Update("value", gorm.Expr("value + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		ins := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&Sequence{Name: name, Value: 1})
		if ins.Error != nil {
			return 0, ins.Error
		}
		if ins.RowsAffected == 1 {
			return 1, nil
		}
		// lost the race to create the row; bump the winner's
		return nextSequence(tx, name)
	}
	var seq Sequence
	if err := tx.Where("name = ?", name).Take(&seq).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

func formatSerial(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}
