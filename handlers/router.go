package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/middlewares"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Handler serves the REST surface. Processor and Sweep may be nil; their routes then answer 503.
type Handler struct {
	Logger    *logrus.Logger
	Processor *workflow.NotificationProcessor
	Sweep     *workflow.ExpirySweep
}

const (
	roleAdmin      = string(models.ActorRoleAdmin)
	roleAccounting = string(models.ActorRoleAccounting)
	roleOwner      = string(models.ActorRoleOwner)
)

// Register mounts every route on r. AuthMiddleware and SessionMiddleware must already be installed.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/login", h.login)
	r.POST("/logout", middlewares.RequireActor(), h.logout)

	api := r.Group("/", middlewares.RequireActor())

	api.POST("/reservation", h.upsertReservation)
	api.GET("/reservation", h.listReservations)
	api.GET("/reservation/export", middlewares.RequireActor(roleAdmin, roleAccounting), h.exportReservations)
	api.GET("/reservation/:id", h.getReservation)
	api.PATCH("/reservation/:id", h.reservationAction)
	api.POST("/reservation/:id/approve", h.approveReservation)
	api.POST("/reservation/:id/reject", h.rejectReservation)
	api.POST("/reservation/:id/invoice", middlewares.RequireActor(roleAdmin, roleAccounting), h.reissueInvoice)

	api.GET("/template", h.listTemplates)
	api.GET("/template/:id", h.getTemplate)
	api.POST("/template", middlewares.RequireActor(roleAdmin, roleOwner), h.createTemplate)
	api.POST("/template/:id/render", h.renderTemplate)

	api.POST("/contract", h.createContract)
	api.GET("/contract", h.listContracts)
	api.GET("/contract/:id", h.getContract)
	api.PATCH("/contract/:id", h.updateContractDraft)
	api.PUT("/contract/:id", h.contractAction)
	api.GET("/contract/:id/export", h.exportContract)
	api.POST("/contract/:id/archive", h.archiveContract)

	api.GET("/invoice", h.listInvoices)
	api.GET("/invoice/:id", h.getInvoice)
	api.POST("/invoice/:id/pay", h.payInvoice)

	staff := api.Group("/", middlewares.RequireActor(roleAdmin, roleAccounting))
	staff.GET("/history/:type/:id", h.listHistory)
	staff.GET("/notification-template", h.listNotificationTemplates)
	staff.GET("/internal/ops/outbox", h.outboxStatus)

	admin := api.Group("/", middlewares.RequireActor(roleAdmin))
	admin.PUT("/notification-template", h.upsertNotificationTemplate)
	admin.POST("/user", h.createUser)
	admin.POST("/internal/ops/outbox/replay", h.replayOutbox)
	admin.POST("/internal/ops/sweep", h.runSweep)
}

// RegisterPubSub mounts the Pub/Sub push endpoint. It is authenticated by the push
// subscription itself, not by a user token.
func (h *Handler) RegisterPubSub(r gin.IRouter) {
	r.POST("/pubsub", h.pubsubPush)
}
