package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/utils"
	"github.com/sirupsen/logrus"
)

func (h *Handler) listHistory(c *gin.Context) {
	rows, err := models.ListHistory(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		writeError(c, "listHistory", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) listNotificationTemplates(c *gin.Context) {
	rows, err := models.ListNotificationTemplates(c.Request.Context())
	if err != nil {
		writeError(c, "listNotificationTemplates", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) upsertNotificationTemplate(c *gin.Context) {
	var tpl models.NotificationTemplate
	if err := c.ShouldBindJSON(&tpl); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := models.UpsertNotificationTemplate(c.Request.Context(), nil, &tpl); err != nil {
		writeError(c, "upsertNotificationTemplate", err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *Handler) outboxStatus(c *gin.Context) {
	aggregateType, aggregateId := c.Query("aggregate_type"), c.Query("aggregate_id")
	if aggregateType == "" || aggregateId == "" {
		badRequest(c, "aggregate_type and aggregate_id are required")
		return
	}
	rows, err := models.GetOutboxStatus(c.Request.Context(), aggregateType, aggregateId)
	if err != nil {
		writeError(c, "outboxStatus", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type outboxReplayRequest struct {
	RecordId      int    `json:"record_id"`
	AggregateType string `json:"aggregate_type"`
	AggregateId   string `json:"aggregate_id"`
}

// replayOutbox makes FAILED or DEAD notifications eligible for delivery again, either
// one row by record_id or every undelivered row of one record.
func (h *Handler) replayOutbox(c *gin.Context) {
	var req outboxReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if req.RecordId <= 0 {
		if req.AggregateType == "" || req.AggregateId == "" {
			badRequest(c, "record_id or aggregate_type and aggregate_id are required")
			return
		}
		rows, err := models.ReprocessOutbox(c.Request.Context(), req.AggregateType, req.AggregateId)
		if err != nil {
			writeError(c, "replayOutbox", err)
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}
	evt, err := models.ReplayOutboxEvent(c.Request.Context(), req.RecordId)
	if err != nil {
		writeError(c, "replayOutbox", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id":         evt.ID,
		"publish_status":    evt.PublishStatus,
		"processing_status": evt.ProcessingStatus,
	})
}

func (h *Handler) runSweep(c *gin.Context) {
	if h.Sweep == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sweep is not configured"})
		return
	}
	result, err := h.Sweep.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, "runSweep", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pubsubPush delivers one outbox row announced by a push subscription.
// 204 acks the message; any other status makes Pub/Sub redeliver it.
func (h *Handler) pubsubPush(c *gin.Context) {
	logger := h.Logger
	if h.Processor == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	var msg PubSubMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		config.LogError(logger, "handlers", "pubsubPush", "Unmarshal pubsub envelope", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	var m config.NotificationMessage
	if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
		// Malformed payload: ack/drop to avoid infinite retries.
		config.LogError(logger, "handlers", "pubsubPush", "Unmarshal pubsub message", string(msg.Message.Data), err)
		c.Status(http.StatusNoContent)
		return
	}
	if m.ID <= 0 {
		config.LogError(logger, "handlers", "pubsubPush", "Invalid pubsub message (missing id)", m, fmt.Errorf("id required"))
		c.Status(http.StatusNoContent)
		return
	}

	correlationId := m.CorrelationId
	if correlationId == "" {
		correlationId = msg.Message.ID
	}
	ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)

	release := h.lockOutboxRecord(ctx, m, msg.Message.ID)
	defer release()

	if err := h.Processor.Process(ctx, m.ID); err != nil {
		logger.WithFields(logrus.Fields{
			"field":          "pubsubPush",
			"record_id":      m.ID,
			"event_name":     m.EventName,
			"message_id":     msg.Message.ID,
			"correlation_id": correlationId,
		}).Error("pubsub processing failed: " + err.Error())
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// lockOutboxRecord is best-effort: the idempotency key serializes processing when redis is down.
func (h *Handler) lockOutboxRecord(ctx context.Context, m config.NotificationMessage, messageId string) func() {
	fields := logrus.Fields{
		"field":      "pubsubPush",
		"record_id":  m.ID,
		"message_id": messageId,
	}
	locker := config.GetRedisLock()
	if locker == nil {
		h.Logger.WithFields(fields).Warn("redis lock not ready; proceeding without redis lock")
		return func() {}
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:outbox:%d", m.ID), 30*time.Second, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		h.Logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock")
		return func() {}
	}
	if err != nil {
		h.Logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil {
			h.Logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
