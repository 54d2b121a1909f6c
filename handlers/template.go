package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/models"
)

func (h *Handler) listTemplates(c *gin.Context) {
	templates, err := models.ListTemplates(c.Request.Context(), models.TemplateScope(c.Query("scope")))
	if err != nil {
		writeError(c, "listTemplates", err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *Handler) getTemplate(c *gin.Context) {
	tpl, err := models.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "getTemplate", err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

func (h *Handler) createTemplate(c *gin.Context) {
	var input models.NewContractTemplate
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	tpl, err := models.CreateTemplate(c.Request.Context(), &input)
	if err != nil {
		writeError(c, "createTemplate", err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

type renderRequest struct {
	Fields map[string]string `json:"fields"`
}

type renderResponse struct {
	models.Bilingual
	Missing []string `json:"missing"`
}

// renderTemplate previews a template without storing anything.
func (h *Handler) renderTemplate(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	tpl, err := models.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "renderTemplate", err)
		return
	}
	missing := tpl.MissingRequired(req.Fields)
	if missing == nil {
		missing = []string{}
	}
	c.JSON(http.StatusOK, renderResponse{Bilingual: tpl.Render(req.Fields), Missing: missing})
}
