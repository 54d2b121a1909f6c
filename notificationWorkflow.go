package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus"
)

// RunNotificationWorkflow consumes the notification topic through a pull subscription
// (PUBSUB_SUBSCRIPTION). Deployments using the /pubsub push endpoint leave it unset.
func RunNotificationWorkflow(ctx context.Context, proc *workflow.NotificationProcessor) error {
	subName := os.Getenv("PUBSUB_SUBSCRIPTION")
	if subName == "" {
		return nil
	}
	logger := config.GetLogger()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, subName, topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.NotificationMessage{}
		err := json.Unmarshal(msg.Data, &m)
		if err == nil && m.ID <= 0 {
			err = errors.New("id required")
		}
		if err != nil {
			config.LogError(logger, "notificationWorkflow.go", "RunNotificationWorkflow", "Unmarshaling pubsub message", string(msg.Data), err)
			// Poisoned payload: ack so it is not redelivered forever.
			msg.Ack()
			return
		}
		correlationId := m.CorrelationId
		if correlationId == "" {
			correlationId = msg.ID
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		if err := proc.Process(ctx, m.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "NotificationWorkflow",
				"record_id":      m.ID,
				"event_name":     m.EventName,
				"message_id":     msg.ID,
				"correlation_id": correlationId,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil && ctx.Err() == nil {
			config.LogError(logger, "notificationWorkflow.go", "RunNotificationWorkflow", "Failed to receive messages", nil, err)
		}
	}()
	return nil
}
