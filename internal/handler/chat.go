package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_relay/internal/domain"
	"chat_relay/internal/service"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type ChatHandler struct {
	messageService    service.MessageService
	membershipService service.MembershipService
	log               logger.Logger
}

func NewChatHandler(messageService service.MessageService, membershipService service.MembershipService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		messageService:    messageService,
		membershipService: membershipService,
		log:               log,
	}
}

// GetChats отдает историю приватной пары (?sender&receiver) или группы
// (?groupId). Без курсора - хвост истории; с курсором (?after=RFC3339)
// - возрастающая страница после отметки.
func (h *ChatHandler) GetChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	roomKey, err := h.resolveRoom(c, userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var messages []*domain.Message
	if afterStr := c.Query("after"); afterStr != "" {
		after, parseErr := time.Parse(time.RFC3339Nano, afterStr)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
			return
		}
		messages, err = h.messageService.History(c.Request.Context(), roomKey, &after, limit)
	} else {
		messages, err = h.messageService.Recent(c.Request.Context(), roomKey, limit)
	}
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ChatHandler) resolveRoom(c *gin.Context, userID uuid.UUID) (domain.RoomKey, error) {
	if groupIDStr := c.Query("groupId"); groupIDStr != "" {
		groupID, err := uuid.Parse(groupIDStr)
		if err != nil {
			return "", apperrors.ErrBadRequest
		}
		isMember, err := h.membershipService.IsMember(c.Request.Context(), groupID, userID)
		if err != nil {
			return "", err
		}
		if !isMember {
			return "", apperrors.ErrForbidden
		}
		return domain.GroupRoomKey(groupID), nil
	}

	senderID, err := uuid.Parse(c.Query("sender"))
	if err != nil {
		return "", apperrors.ErrBadRequest
	}
	receiverID, err := uuid.Parse(c.Query("receiver"))
	if err != nil {
		return "", apperrors.ErrBadRequest
	}
	// Чужую переписку не читаем
	if userID != senderID && userID != receiverID {
		return "", apperrors.ErrForbidden
	}

	return domain.PrivateRoomKey(senderID, receiverID), nil
}

// DeleteMessage - REST-путь soft-delete: сообщение остается в журнале
// как tombstone
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	message, err := h.messageService.SoftDelete(c.Request.Context(), messageID, userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": message})
}
