package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_relay/internal/config"
	"chat_relay/internal/relay"
	"chat_relay/internal/service"
	"chat_relay/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Chat      *ChatHandler
	Group     *GroupHandler
	Upload    *UploadHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, registry *relay.Registry, supervisor *relay.Supervisor, engine *relay.Engine, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(registry),
		Auth:      NewAuthHandler(services.Auth, log),
		User:      NewUserHandler(services.User, log),
		Chat:      NewChatHandler(services.Message, services.Membership, log),
		Group:     NewGroupHandler(services.Membership, log),
		Upload:    NewUploadHandler(cfg.Upload, log),
		WebSocket: NewWebSocketHandler(supervisor, engine, cfg.Relay, log),
	}
}

// currentUserID достает пользователя, положенного auth middleware
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return uuid.Nil, false
	}
	return userID, true
}
