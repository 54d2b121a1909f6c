package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/mmdatafocus/lease_backend/workflow"
)

// statusFor maps a model error category to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbiddenActor):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, workflow.ErrIdempotencyInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		body["fields"] = verr.Fields
	}
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "handlers", funcName, c.Request.Method+" "+c.FullPath(), c.Params, err)
		body["error"] = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
