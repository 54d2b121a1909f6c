package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/lease_backend/appctx"
	"gorm.io/gorm"
)

var ErrRecordRetained = errors.New("record is retained and cannot be deleted")

// RetainedRecord is implemented by models whose rows are never physically deleted,
// only status-advanced.
type RetainedRecord interface {
	RetainRecords() bool
}

// RetentionGuardPlugin rejects DELETE statements against retained models.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL.
// - Internal ops can bypass it explicitly via appctx.ContextKeyAllowPurge.
type RetentionGuardPlugin struct{}

func NewRetentionGuardPlugin() *RetentionGuardPlugin { return &RetentionGuardPlugin{} }

func (p *RetentionGuardPlugin) Name() string { return "retention_guard" }

func (p *RetentionGuardPlugin) Initialize(db *gorm.DB) error {
	return db.Callback().Delete().Before("gorm:delete").Register("retention_guard:delete", retentionGuardCallback)
}

func retentionGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if allowPurge(db.Statement.Context) {
		return
	}
	model := db.Statement.Model
	if model == nil {
		model = db.Statement.Dest
	}
	r, ok := model.(RetainedRecord)
	if !ok || !r.RetainRecords() {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	_ = db.AddError(fmt.Errorf("%w (table=%s)", ErrRecordRetained, table))
}

func allowPurge(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyAllowPurge)
	return ok && v
}
