package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/models"
)

func canViewContract(ct *models.Contract, actor models.Actor) bool {
	if actor.IsStaff() || actor.Role == models.ActorRoleSystem {
		return true
	}
	return ct.Owner.IsActor(actor) || ct.Tenant.IsActor(actor)
}

func (h *Handler) createContract(c *gin.Context) {
	var input models.NewContract
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	ct, err := models.CreateContract(c.Request.Context(), &input)
	if err != nil {
		writeError(c, "createContract", err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *Handler) getContract(c *gin.Context) {
	ctx := c.Request.Context()
	ct, err := models.GetContract(ctx, c.Param("id"))
	if err != nil {
		writeError(c, "getContract", err)
		return
	}
	if !canViewContract(ct, models.ActorFromContext(ctx)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contract not found"})
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *Handler) listContracts(c *gin.Context) {
	ctx := c.Request.Context()
	rows, err := models.ListContracts(ctx, models.ContractFilter{
		ReservationId: c.Query("reservation_id"),
		PropertyId:    c.Query("property_id"),
		Status:        models.ContractStatus(c.Query("status")),
	})
	if err != nil {
		writeError(c, "listContracts", err)
		return
	}
	actor := models.ActorFromContext(ctx)
	out := make([]models.Contract, 0, len(rows))
	for i := range rows {
		if canViewContract(&rows[i], actor) {
			out = append(out, rows[i])
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) updateContractDraft(c *gin.Context) {
	var patch models.ContractPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	ct, err := models.UpdateContractDraft(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		writeError(c, "updateContractDraft", err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *Handler) contractAction(c *gin.Context) {
	var input models.ContractActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request")
		return
	}
	ct, err := models.ApplyContractAction(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeError(c, "contractAction", err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *Handler) exportContract(c *gin.Context) {
	ctx := c.Request.Context()
	ct, err := models.GetContract(ctx, c.Param("id"))
	if err != nil {
		writeError(c, "exportContract", err)
		return
	}
	if !canViewContract(ct, models.ActorFromContext(ctx)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contract not found"})
		return
	}
	doc, err := models.ContractDocument(ct)
	if err != nil {
		writeError(c, "exportContract", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", doc)
}

func (h *Handler) archiveContract(c *gin.Context) {
	ct, err := models.ArchiveContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "archiveContract", err)
		return
	}
	c.JSON(http.StatusOK, ct)
}
