package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/notify"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const notificationHandler = "notification"

// Notifier delivers one event to a set of recipients.
type Notifier interface {
	Notify(ctx context.Context, event string, recipients []models.Recipient, templateName string, data map[string]string) []notify.Outcome
}

// NotificationProcessor delivers committed outbox rows. It is driven either by the
// Pub/Sub push handler (Process) or by the in-process loop (Run).
type NotificationProcessor struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Notifier     Notifier
	WorkerID     string
	BatchSize    int
	PollInterval time.Duration
	LockTTL      time.Duration
	Retry        RetryConfig
}

func NewNotificationProcessor(db *gorm.DB, logger *logrus.Logger, notifier Notifier) *NotificationProcessor {
	return &NotificationProcessor{
		DB:           db,
		Logger:       logger,
		Notifier:     notifier,
		WorkerID:     "direct-" + uuid.NewString(),
		BatchSize:    50,
		PollInterval: 2 * time.Second,
		LockTTL:      30 * time.Second,
		Retry:        ProcessRetryConfig(),
	}
}

// Process delivers one outbox row to the recipients it has not reached yet.
// A non-nil error means some recipient is still pending and the row will be retried.
func (p *NotificationProcessor) Process(ctx context.Context, id int) error {
	db := p.DB.WithContext(ctx)
	messageId := strconv.Itoa(id)

	var evt models.OutboxEvent
	var skip bool
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&evt).Error; err != nil {
			return err
		}
		if evt.ProcessingStatus == models.OutboxProcessStatusSucceeded || evt.ProcessingStatus == models.OutboxProcessStatusDead {
			skip = true
			return nil
		}
		done, err := BeginIdempotency(tx, notificationHandler, messageId)
		if err != nil {
			return err
		}
		if done {
			skip = true
			now := time.Now().UTC()
			return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
				"processing_status": models.OutboxProcessStatusSucceeded,
				"processed_at":      &now,
			}).Error
		}
		now := time.Now().UTC()
		evt.ProcessAttempts++
		return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
			"processing_status": models.OutboxProcessStatusProcessing,
			"process_attempts":  evt.ProcessAttempts,
			"process_locked_at": &now,
			"process_locked_by": &p.WorkerID,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row is gone (purged); nothing left to deliver.
			return nil
		}
		return err
	}
	if skip {
		return nil
	}

	procCtx := models.ContextWithActor(ctx, models.SystemActor())
	procCtx = utils.SetCorrelationIdInContext(procCtx, evt.CorrelationId)

	outcomes := p.Notifier.Notify(procCtx, evt.EventName, evt.PendingRecipients(), evt.TemplateName, evt.Payload)
	delivered := make([]string, 0, len(outcomes))
	var failures []string
	for _, o := range outcomes {
		if o.Status == notify.OutcomeFailed {
			msg := o.Recipient.Key()
			if o.Err != nil {
				msg += ": " + o.Err.Error()
			}
			failures = append(failures, msg)
			continue
		}
		delivered = append(delivered, o.Recipient.Key())
	}

	var deliveryErr error
	if len(failures) > 0 {
		deliveryErr = fmt.Errorf("%d of %d recipients failed: %s", len(failures), len(outcomes), strings.Join(failures, "; "))
	}
	if err := p.finish(ctx, id, messageId, delivered, deliveryErr); err != nil {
		config.LogError(p.Logger, "NotificationProcessor", "Process", "recording delivery result", evt.ID, err)
		return err
	}
	return deliveryErr
}

func (p *NotificationProcessor) finish(ctx context.Context, id int, messageId string, delivered []string, deliveryErr error) error {
	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var evt models.OutboxEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&evt).Error; err != nil {
			return err
		}
		evt.DeliveredTo = append(evt.DeliveredTo, delivered...)
		evt.ProcessLockedAt = nil
		evt.ProcessLockedBy = nil
		now := time.Now().UTC()

		if deliveryErr == nil {
			evt.ProcessingStatus = models.OutboxProcessStatusSucceeded
			evt.ProcessedAt = &now
			evt.NextProcessAttemptAt = nil
			evt.LastProcessError = nil
			if err := tx.Save(&evt).Error; err != nil {
				return err
			}
			return MarkIdempotencySucceeded(tx, notificationHandler, messageId)
		}

		msg := deliveryErr.Error()
		evt.LastProcessError = &msg
		fields := logrus.Fields{
			"field":      "NotificationProcessor",
			"event_name": evt.EventName,
			"record_id":  evt.ID,
			"attempt":    evt.ProcessAttempts,
		}
		if p.Retry.MaxAttempts > 0 && evt.ProcessAttempts >= p.Retry.MaxAttempts {
			evt.ProcessingStatus = models.OutboxProcessStatusDead
			evt.NextProcessAttemptAt = nil
			p.Logger.WithFields(fields).Error("notification moved to DEAD after max attempts: " + msg)
		} else {
			next := now.Add(p.Retry.Backoff(evt.ProcessAttempts))
			evt.ProcessingStatus = models.OutboxProcessStatusFailed
			evt.NextProcessAttemptAt = &next
			fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
			p.Logger.WithFields(fields).Warn("notification delivery incomplete: " + msg)
		}
		if err := tx.Save(&evt).Error; err != nil {
			return err
		}
		return MarkIdempotencyFailed(tx, notificationHandler, messageId, deliveryErr)
	})
}

// ProcessDue delivers every row that is due, including rows whose worker lock went stale.
// Returns the number of rows fully delivered.
func (p *NotificationProcessor) ProcessDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var ids []int
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.OutboxEvent{}).
			Where(`
				(
					processing_status IN ? AND (next_process_attempt_at IS NULL OR next_process_attempt_at <= ?)
				)
				OR
				(
					processing_status = ? AND (process_locked_at IS NULL OR process_locked_at <= ?)
				)
			`, []string{models.OutboxProcessStatusPending, models.OutboxProcessStatusFailed}, now, models.OutboxProcessStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Pluck("id", &ids).Error
	})
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := p.Process(ctx, id); err != nil {
			if errors.Is(err, ErrIdempotencyInProgress) {
				continue
			}
			p.Logger.WithFields(logrus.Fields{
				"field":     "NotificationProcessor",
				"record_id": id,
			}).Warn("direct processing failed: " + err.Error())
			continue
		}
		done++
	}
	return done, nil
}

// Run drains due rows on every poll tick and whenever wake fires.
func (p *NotificationProcessor) Run(ctx context.Context, wake <-chan struct{}) {
	if p == nil || p.DB == nil {
		return
	}
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			config.LogError(p.Logger, "NotificationProcessor", "Run", "processing due notifications", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}
