package relay

import (
	"context"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

// TokenVerifier - точка Verify(token) -> userID; реализуется AuthService
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

// Supervisor связывает транспортные connect/disconnect с реестром.
// Подписки между переподключениями не сохраняются: после reconnect
// клиент заново шлет join_room/join_group, это защищает от
// протухших подписок.
type Supervisor struct {
	registry *Registry
	auth     TokenVerifier
	log      logger.Logger
}

func NewSupervisor(registry *Registry, auth TokenVerifier, log logger.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		auth:     auth,
		log:      log,
	}
}

// HandleConnect проверяет токен и регистрирует соединение
func (s *Supervisor) HandleConnect(ctx context.Context, token string, sink EventSink) (string, uuid.UUID, error) {
	user, err := s.auth.ValidateToken(ctx, token)
	if err != nil {
		return "", uuid.Nil, apperrors.ErrUnauthorized
	}

	connID := uuid.NewString()
	if err := s.registry.Register(connID, user.ID, sink); err != nil {
		return "", uuid.Nil, err
	}

	s.log.Info("Connection registered", "conn_id", connID, "user_id", user.ID)
	return connID, user.ID, nil
}

// HandleDisconnect снимает соединение ровно один раз, даже если
// транспорт сигналит о разрыве повторно
func (s *Supervisor) HandleDisconnect(connID string) {
	if s.registry.Deregister(connID) {
		s.log.Info("Connection deregistered", "conn_id", connID)
	}
}
