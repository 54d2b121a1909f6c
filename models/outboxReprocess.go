package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
)

func replayUpdates(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"publish_status":          OutboxPublishStatusFailed,
		"next_attempt_at":         &now,
		"locked_at":               nil,
		"locked_by":               nil,
		"last_publish_error":      nil,
		"processing_status":       OutboxProcessStatusFailed,
		"process_attempts":        0,
		"next_process_attempt_at": &now,
		"process_locked_at":       nil,
		"process_locked_by":       nil,
	}
}

// ReplayOutboxEvent makes a FAILED/DEAD row eligible again on both the publish and delivery side.
func ReplayOutboxEvent(ctx context.Context, id int) (*OutboxEvent, error) {
	res := config.GetDB().WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id = ? AND processing_status <> ?", id, OutboxProcessStatusSucceeded).
		Updates(replayUpdates(time.Now().UTC()))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetOutboxEvent(ctx, id); err != nil {
			return nil, err
		}
		return nil, conflictError("outbox event %d was already delivered", id)
	}
	signalOutbox()
	return GetOutboxEvent(ctx, id)
}

// ReprocessOutbox replays every undelivered notification of one record.
func ReprocessOutbox(ctx context.Context, aggregateType, aggregateId string) ([]OutboxStatus, error) {
	res := config.GetDB().WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("aggregate_type = ? AND aggregate_id = ? AND processing_status <> ?", aggregateType, aggregateId, OutboxProcessStatusSucceeded).
		Updates(replayUpdates(time.Now().UTC()))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, notFound("undelivered outbox events for "+aggregateType, aggregateId)
	}
	signalOutbox()
	return GetOutboxStatus(ctx, aggregateType, aggregateId)
}
