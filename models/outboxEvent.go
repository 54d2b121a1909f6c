package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Outbox processing statuses for OutboxEvent.ProcessingStatus.
// These represent delivery-side handling state (distinct from PublishStatus).
const (
	OutboxProcessStatusPending    = "PENDING"
	OutboxProcessStatusProcessing = "PROCESSING"
	OutboxProcessStatusSucceeded  = "SUCCEEDED"
	OutboxProcessStatusFailed     = "FAILED"
	OutboxProcessStatusDead       = "DEAD"
)

// Notification event names.
const (
	EventReservationCreated   = "reservation_created"
	EventReservationApproved  = "reservation_approved"
	EventReservationRejected  = "reservation_rejected"
	EventReservationSigned    = "reservation_signed"
	EventReservationConfirmed = "reservation_confirmed"
	EventReservationCancelled = "reservation_cancelled"
	EventReservationExpired   = "reservation_expired"
	EventContractSent         = "contract_sent"
	EventContractAccepted     = "contract_accepted"
	EventContractApproved     = "contract_approved"
	EventContractRejected     = "contract_rejected"
	EventContractCancelled    = "contract_cancelled"
	EventInvoiceIssued        = "invoice_issued"
	EventPaymentReceived      = "payment_received"
)

// OutboxEvent is a pending notification written in the same transaction as the state
// change that caused it. Delivery happens after commit, from a worker.
type OutboxEvent struct {
	ID            int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventName     string            `gorm:"size:64;not null;index" json:"event_name"`
	AggregateType string            `gorm:"size:32;not null" json:"aggregate_type"`
	AggregateId   string            `gorm:"size:64;not null;index" json:"aggregate_id"`
	TemplateName  string            `gorm:"size:64;not null" json:"template_name"`
	Recipients    []Recipient       `gorm:"type:text;serializer:json" json:"recipients"`
	Payload       map[string]string `gorm:"type:text;serializer:json" json:"payload"`
	DeliveredTo   []string          `gorm:"type:text;serializer:json" json:"delivered_to"`
	// publish side (Pub/Sub)
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// delivery side
	ProcessingStatus     string     `gorm:"size:20;index;not null;default:'PENDING'" json:"processing_status"`
	ProcessAttempts      int        `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAttemptAt *time.Time `gorm:"index" json:"next_process_attempt_at"`
	ProcessLockedAt      *time.Time `json:"process_locked_at"`
	ProcessLockedBy      *string    `gorm:"size:100" json:"process_locked_by"`
	LastProcessError     *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt          *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId        string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e OutboxEvent) ToMessage() config.NotificationMessage {
	return config.NotificationMessage{
		ID:            e.ID,
		EventName:     e.EventName,
		AggregateType: e.AggregateType,
		AggregateId:   e.AggregateId,
		OccurredAt:    e.CreatedAt,
		CorrelationId: e.CorrelationId,
	}
}

// PendingRecipients drops recipients that an earlier attempt already reached.
func (e OutboxEvent) PendingRecipients() []Recipient {
	if len(e.DeliveredTo) == 0 {
		return e.Recipients
	}
	done := make(map[string]bool, len(e.DeliveredTo))
	for _, k := range e.DeliveredTo {
		done[k] = true
	}
	pending := make([]Recipient, 0, len(e.Recipients))
	for _, r := range e.Recipients {
		if !done[r.Key()] {
			pending = append(pending, r)
		}
	}
	return pending
}

// NotificationEvent is what a transition asks to be told to whom.
type NotificationEvent struct {
	Name          string
	AggregateType string
	AggregateId   string
	TemplateName  string
	Recipients    []Recipient
	Data          map[string]string
}

// EnqueueNotification appends an outbox row inside tx. Events without recipients are dropped.
func EnqueueNotification(ctx context.Context, tx *gorm.DB, evt NotificationEvent) error {
	recipients := uniqueRecipients(evt.Recipients)
	if len(recipients) == 0 {
		return nil
	}
	templateName := evt.TemplateName
	if templateName == "" {
		templateName = evt.Name
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	record := OutboxEvent{
		EventName:        evt.Name,
		AggregateType:    evt.AggregateType,
		AggregateId:      evt.AggregateId,
		TemplateName:     templateName,
		Recipients:       recipients,
		Payload:          evt.Data,
		DeliveredTo:      []string{},
		PublishStatus:    OutboxPublishStatusPending,
		ProcessingStatus: OutboxProcessStatusPending,
		CorrelationId:    correlationId,
	}
	return tx.Create(&record).Error
}

func uniqueRecipients(in []Recipient) []Recipient {
	seen := make(map[string]bool, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		if r.Address == "" || seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

// GetOutboxEvent loads one row by id.
func GetOutboxEvent(ctx context.Context, id int) (*OutboxEvent, error) {
	var evt OutboxEvent
	if err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&evt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &evt, nil
}

var outboxSignal = make(chan struct{}, 1)

// OutboxSignal fires (coalesced) after a commit that enqueued notifications, so the
// in-process worker can drain without waiting for its next poll.
func OutboxSignal() <-chan struct{} {
	return outboxSignal
}

func signalOutbox() {
	select {
	case outboxSignal <- struct{}{}:
	default:
	}
}
