package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/middlewares"
	"github.com/mmdatafocus/lease_backend/models"
)

// canViewInvoice loads the reservation behind the invoice for tenants and owners.
func canViewInvoice(c *gin.Context, invoice *models.Invoice) bool {
	ctx := c.Request.Context()
	actor := models.ActorFromContext(ctx)
	if actor.IsStaff() || actor.Role == models.ActorRoleSystem {
		return true
	}
	r, err := middlewares.GetReservation(ctx, invoice.ReservationId)
	if err != nil {
		return false
	}
	return canViewReservation(r, actor)
}

// visibleInvoices filters rows down to what the actor may see, loading the
// reservations behind them in one batch.
func visibleInvoices(c *gin.Context, rows []models.Invoice) []models.Invoice {
	ctx := c.Request.Context()
	actor := models.ActorFromContext(ctx)
	if actor.IsStaff() || actor.Role == models.ActorRoleSystem {
		return rows
	}
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ReservationId
	}
	reservations, _ := middlewares.GetReservations(ctx, ids)
	out := make([]models.Invoice, 0, len(rows))
	for i := range rows {
		if i < len(reservations) && reservations[i] != nil && canViewReservation(reservations[i], actor) {
			out = append(out, rows[i])
		}
	}
	return out
}

func (h *Handler) listInvoices(c *gin.Context) {
	rows, err := models.ListInvoices(c.Request.Context(), models.InvoiceFilter{
		ReservationId: c.Query("reservation_id"),
		Status:        models.InvoiceStatus(c.Query("status")),
	})
	if err != nil {
		writeError(c, "listInvoices", err)
		return
	}
	c.JSON(http.StatusOK, visibleInvoices(c, rows))
}

type invoiceResponse struct {
	*models.Invoice
	Payment *models.Payment `json:"payment,omitempty"`
}

func (h *Handler) getInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	invoice, err := models.GetInvoice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, "getInvoice", err)
		return
	}
	if !canViewInvoice(c, invoice) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	}
	resp := invoiceResponse{Invoice: invoice}
	if invoice.Status == models.InvoiceStatusPaid {
		payment, err := models.GetInvoicePayment(ctx, invoice.ID)
		if err != nil {
			writeError(c, "getInvoice", err)
			return
		}
		resp.Payment = payment
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) payInvoice(c *gin.Context) {
	var input models.PaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	payment, invoice, err := models.ApplyPayment(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeError(c, "payInvoice", err)
		return
	}
	c.JSON(http.StatusOK, invoiceResponse{Invoice: invoice, Payment: payment})
}
