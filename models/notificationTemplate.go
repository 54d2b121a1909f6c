package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationTemplate is the message text for one event on one channel.
type NotificationTemplate struct {
	ID        int                 `gorm:"primary_key" json:"id"`
	Name      string              `gorm:"size:64;not null;index:uniq_notification_template,unique" json:"name" validate:"required,max=64"`
	Channel   NotificationChannel `gorm:"size:20;not null;index:uniq_notification_template,unique" json:"channel" validate:"required"`
	Subject   string              `gorm:"size:255" json:"subject"`
	Body      string              `gorm:"type:text;not null" json:"body" validate:"required"`
	Enabled   bool                `gorm:"not null" json:"enabled"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// NotificationTemplateStore reads templates from the database.
type NotificationTemplateStore struct {
	DB *gorm.DB
}

func (s NotificationTemplateStore) db(ctx context.Context) *gorm.DB {
	if s.DB != nil {
		return s.DB.WithContext(ctx)
	}
	return config.GetDB().WithContext(ctx)
}

// EnabledTemplate returns (nil, nil) when no enabled template exists for (name, channel).
func (s NotificationTemplateStore) EnabledTemplate(ctx context.Context, name string, channel NotificationChannel) (*NotificationTemplate, error) {
	var tpl NotificationTemplate
	err := s.db(ctx).
		Where("name = ? AND channel = ? AND enabled = ?", name, channel, true).
		Take(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// UpsertNotificationTemplate inserts or replaces by (name, channel).
func UpsertNotificationTemplate(ctx context.Context, db *gorm.DB, tpl *NotificationTemplate) error {
	tpl.Name = strings.TrimSpace(tpl.Name)
	fields, err := validateNotificationTemplate(tpl)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return newValidationError("invalid notification template", fields)
	}
	if db == nil {
		db = config.GetDB()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "enabled", "updated_at"}),
	}).Create(tpl).Error
}

func validateNotificationTemplate(tpl *NotificationTemplate) (map[string]string, error) {
	fields, err := validateInput(tpl)
	if err != nil {
		return nil, err
	}
	if !tpl.Channel.IsValid() {
		fields["channel"] = "oneof email whatsapp sms push"
	}
	return fields, nil
}

func ListNotificationTemplates(ctx context.Context) ([]NotificationTemplate, error) {
	var rows []NotificationTemplate
	err := config.GetDB().WithContext(ctx).Order("name, channel").Find(&rows).Error
	return rows, err
}
