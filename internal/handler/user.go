package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_relay/internal/service"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type UserHandler struct {
	userService service.UserService
	log         logger.Logger
}

func NewUserHandler(userService service.UserService, log logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		log:         log,
	}
}

func (h *UserHandler) GetReceivers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	receivers, err := h.userService.ListReceivers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receivers": receivers})
}

type AddReceiverRequest struct {
	EmailOrMobile string `json:"emailOrMobile" binding:"required"`
}

func (h *UserHandler) AddReceiver(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req AddReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receiver, err := h.userService.AddReceiver(c.Request.Context(), userID, req.EmailOrMobile)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"receiver": receiver})
}
