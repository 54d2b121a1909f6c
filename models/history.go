package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"gorm.io/gorm"
)

// History is the append-only audit trail of transitions. Rows are never deleted.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ReferenceType string    `gorm:"size:32;not null;index:idx_history_ref,priority:1" json:"reference_type"`
	ReferenceID   string    `gorm:"size:64;not null;index:idx_history_ref,priority:2" json:"reference_id"`
	ActionType    string    `gorm:"size:40;not null" json:"action_type"`
	FromStatus    string    `gorm:"size:40" json:"from_status"`
	ToStatus      string    `gorm:"size:40" json:"to_status"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text" json:"description"`
	UserId        string    `gorm:"size:64;index" json:"user_id"`
	UserName      string    `gorm:"size:150" json:"user_name"`
	UserRole      string    `gorm:"size:20" json:"user_role"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (History) RetainRecords() bool { return true }

type historyEntry struct {
	referenceType string
	referenceId   string
	action        string
	from          string
	to            string
	before        interface{}
	after         interface{}
	description   string
}

func createHistory(tx *gorm.DB, actor Actor, entry historyEntry) error {
	history := History{
		ReferenceType: entry.referenceType,
		ReferenceID:   entry.referenceId,
		ActionType:    entry.action,
		FromStatus:    entry.from,
		ToStatus:      entry.to,
		Description:   entry.description,
		UserId:        actor.UserId,
		UserName:      actor.label(),
		UserRole:      string(actor.Role),
	}
	if entry.before != nil {
		history.Before, _ = utils.MarshalToJSON(entry.before)
	}
	if entry.after != nil {
		history.After, _ = utils.MarshalToJSON(entry.after)
	}
	return tx.Create(&history).Error
}

// ListHistory returns the audit trail of one record, oldest first.
func ListHistory(ctx context.Context, referenceType, referenceId string) ([]History, error) {
	var rows []History
	err := config.GetDB().WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id").
		Find(&rows).Error
	return rows, err
}
