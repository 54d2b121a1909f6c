package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/models"
)

func canViewReservation(r *models.Reservation, actor models.Actor) bool {
	if actor.IsStaff() || actor.Role == models.ActorRoleSystem {
		return true
	}
	return r.Customer.IsActor(actor) || r.Owner.IsActor(actor)
}

func (h *Handler) upsertReservation(c *gin.Context) {
	var input models.ReservationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	r, err := models.UpsertReservation(c.Request.Context(), &input)
	if err != nil {
		writeError(c, "upsertReservation", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) getReservation(c *gin.Context) {
	ctx := c.Request.Context()
	r, err := models.GetReservation(ctx, c.Param("id"))
	if err != nil {
		writeError(c, "getReservation", err)
		return
	}
	if !canViewReservation(r, models.ActorFromContext(ctx)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// listReservations: staff see everything (optionally by property or status), tenants
// their own reservations, owners the reservations naming them.
func (h *Handler) listReservations(c *gin.Context) {
	ctx := c.Request.Context()
	actor := models.ActorFromContext(ctx)
	propertyId := c.Query("property_id")
	status := models.ReservationStatus(c.Query("status"))

	var rows []models.Reservation
	var err error
	switch {
	case !actor.IsStaff() && propertyId == "":
		rows, err = models.ListMyReservations(ctx, actor.UserId)
	case propertyId != "":
		rows, err = models.ListReservationsByProperty(ctx, propertyId)
	default:
		limit, _ := strconv.Atoi(c.Query("limit"))
		var page *models.PageInfo
		rows, page, err = models.PageReservations(ctx, status, c.Query("after"), limit)
		if page != nil && page.HasNextPage {
			c.Header("X-Next-Cursor", page.EndCursor)
		}
	}
	if err != nil {
		writeError(c, "listReservations", err)
		return
	}

	out := make([]models.Reservation, 0, len(rows))
	for i := range rows {
		if status != "" && rows[i].Status != status {
			continue
		}
		if canViewReservation(&rows[i], actor) {
			out = append(out, rows[i])
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) reservationAction(c *gin.Context) {
	var input models.ReservationActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request")
		return
	}
	r, err := models.ApplyReservationAction(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeError(c, "reservationAction", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) approveReservation(c *gin.Context) {
	r, err := models.ApproveReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "approveReservation", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rejectReservation(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	r, err := models.RejectReservation(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, "rejectReservation", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) exportReservations(c *gin.Context) {
	data, err := models.ExportReservations(c.Request.Context(), models.ReservationStatus(c.Query("status")))
	if err != nil {
		writeError(c, "exportReservations", err)
		return
	}
	filename := "reservations-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

type reissueRequest struct {
	Transition models.ReservationAction `json:"transition" binding:"required"`
}

func (h *Handler) reissueInvoice(c *gin.Context) {
	var req reissueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "transition is required")
		return
	}
	invoice, err := models.CreateInvoiceForReservation(c.Request.Context(), c.Param("id"), req.Transition)
	if err != nil {
		writeError(c, "reissueInvoice", err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}
