package main

import (
	"context"

	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/notify"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newNotificationProcessor(db *gorm.DB, logger *logrus.Logger) *workflow.NotificationProcessor {
	dispatcher := &notify.Dispatcher{
		Templates:  models.NotificationTemplateStore{DB: db},
		Transports: notify.TransportsFromEnv(logger),
		Logger:     logger,
	}
	return workflow.NewNotificationProcessor(db, logger, dispatcher)
}

// startWorkers launches the background loops that are enabled by configuration:
// the Pub/Sub publisher, the pull consumer, the in-process processor and the expiry sweep.
func startWorkers(ctx context.Context, db *gorm.DB, logger *logrus.Logger, proc *workflow.NotificationProcessor, sweep *workflow.ExpirySweep) {
	if config.PubSubEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(ctx)
		if err := RunNotificationWorkflow(ctx, proc); err != nil {
			config.LogError(logger, "outbox_direct_processor.go", "startWorkers", "starting pull subscription", nil, err)
		}
	}

	// The direct processor also backs up Pub/Sub delivery when that is misconfigured;
	// idempotency keys make double delivery safe.
	if config.OutboxDirectProcessing() {
		go proc.Run(ctx, models.OutboxSignal())
	} else if !config.PubSubEnabled() {
		logger.WithFields(logrus.Fields{"field": "startWorkers"}).
			Warn("OUTBOX_DIRECT_PROCESSING=false and PUBSUB_TOPIC unset; notifications will not be delivered")
	}

	if config.ExpirySweepEnabled() {
		go sweep.Run(ctx)
	}
}
