package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
)

// OutboxStatus is the delivery state of one notification, for ops screens.
type OutboxStatus struct {
	RecordId             int        `json:"record_id"`
	EventName            string     `json:"event_name"`
	AggregateType        string     `json:"aggregate_type"`
	AggregateId          string     `json:"aggregate_id"`
	PublishStatus        string     `json:"publish_status"`
	ProcessingStatus     string     `json:"processing_status"`
	Recipients           int        `json:"recipients"`
	Delivered            int        `json:"delivered"`
	PublishAttempts      int        `json:"publish_attempts"`
	ProcessAttempts      int        `json:"process_attempts"`
	NextAttemptAt        *time.Time `json:"next_attempt_at"`
	NextProcessAttemptAt *time.Time `json:"next_process_attempt_at"`
	LastPublishError     *string    `json:"last_publish_error"`
	LastProcessError     *string    `json:"last_process_error"`
	CreatedAt            time.Time  `json:"created_at"`
	PublishedAt          *time.Time `json:"published_at"`
	ProcessedAt          *time.Time `json:"processed_at"`
}

func (e OutboxEvent) Status() OutboxStatus {
	processing := e.ProcessingStatus
	if processing == "" {
		processing = OutboxProcessStatusPending
	}
	return OutboxStatus{
		RecordId:             e.ID,
		EventName:            e.EventName,
		AggregateType:        e.AggregateType,
		AggregateId:          e.AggregateId,
		PublishStatus:        e.PublishStatus,
		ProcessingStatus:     processing,
		Recipients:           len(e.Recipients),
		Delivered:            len(e.DeliveredTo),
		PublishAttempts:      e.PublishAttempts,
		ProcessAttempts:      e.ProcessAttempts,
		NextAttemptAt:        e.NextAttemptAt,
		NextProcessAttemptAt: e.NextProcessAttemptAt,
		LastPublishError:     e.LastPublishError,
		LastProcessError:     e.LastProcessError,
		CreatedAt:            e.CreatedAt,
		PublishedAt:          e.PublishedAt,
		ProcessedAt:          e.ProcessedAt,
	}
}

// GetOutboxStatus lists the notifications raised for one record, newest first.
func GetOutboxStatus(ctx context.Context, aggregateType, aggregateId string) ([]OutboxStatus, error) {
	var rows []OutboxEvent
	if err := config.GetDB().WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateId).
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]OutboxStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status())
	}
	return out, nil
}
