package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/lease_backend/models"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	info, err := models.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) logout(c *gin.Context) {
	ok, err := models.Logout(c.Request.Context())
	if err != nil {
		writeError(c, "logout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": ok})
}

func (h *Handler) createUser(c *gin.Context) {
	var input models.NewUser
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request")
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		writeError(c, "createUser", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}
