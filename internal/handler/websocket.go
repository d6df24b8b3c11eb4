package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat_relay/internal/config"
	"chat_relay/internal/domain"
	"chat_relay/internal/relay"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

type WebSocketHandler struct {
	supervisor *relay.Supervisor
	engine     *relay.Engine
	cfg        config.RelayConfig
	log        logger.Logger
}

func NewWebSocketHandler(supervisor *relay.Supervisor, engine *relay.Engine, cfg config.RelayConfig, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		supervisor: supervisor,
		engine:     engine,
		cfg:        cfg,
		log:        log,
	}
}

// Handle принимает socket-соединение: токен, регистрация, read-цикл.
// Deregister срабатывает при любом исходе read-цикла
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := relay.NewClient(conn, h.cfg.SendBufferSize, h.cfg.WriteWait, h.cfg.PongWait, h.log)

	connID, userID, err := h.supervisor.HandleConnect(c.Request.Context(), token, client)
	if err != nil {
		// Отказ в рукопожатии сообщаем через сам socket и закрываем;
		// код позволяет клиенту отличить плохой токен от сбоя транспорта
		payload, _ := json.Marshal(domain.ErrorPayload{
			Code:      apperrors.WireCode(err),
			Message:   err.Error(),
			Retryable: apperrors.Retryable(err),
		})
		conn.WriteJSON(domain.Envelope{Event: domain.EventError, Data: payload})
		conn.Close()
		return
	}
	h.log.Debug("Socket connected", "conn_id", connID, "user_id", userID)

	go client.WritePump()

	// События одного соединения обрабатываются последовательно в его
	// read-горутине: порядок отправки сохраняется, а остальные
	// соединения живут в своих горутинах и не блокируются
	client.ReadPump(func(env domain.Envelope) {
		h.engine.HandleEvent(c.Request.Context(), connID, env)
	})

	h.supervisor.HandleDisconnect(connID)
	client.Close()
}
