package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	"chat_relay/internal/repository"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

// MessageService - строго упорядоченный журнал сообщений по комнатам
// плюс точечные мутации: реакции и soft-delete.
type MessageService interface {
	Append(ctx context.Context, message *domain.Message) (*domain.Message, error)
	Get(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	// History - возрастающая по времени последовательность с курсором
	// (timestamp последнего полученного сообщения), перезапускаемая
	History(ctx context.Context, roomKey domain.RoomKey, after *time.Time, limit int) ([]*domain.Message, error)
	// Recent - хвост истории комнаты в хронологическом порядке,
	// обслуживается из Redis-кеша, Postgres - запасной путь
	Recent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error)
	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*domain.Message, error)
	RemoveReaction(ctx context.Context, messageID, reactionID, requesterID uuid.UUID) (*domain.Message, error)
	SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (*domain.Message, error)
}

type messageService struct {
	messageRepo repository.MessageRepository
	cache       repository.HistoryCacheRepository
	cacheSize   int
	log         logger.Logger
}

func NewMessageService(messageRepo repository.MessageRepository, cache repository.HistoryCacheRepository, cacheSize int, log logger.Logger) MessageService {
	return &messageService{
		messageRepo: messageRepo,
		cache:       cache,
		cacheSize:   cacheSize,
		log:         log,
	}
}

func (s *messageService) Append(ctx context.Context, message *domain.Message) (*domain.Message, error) {
	if message.Content == "" && message.FileURL == nil {
		return nil, apperrors.ErrBadRequest
	}

	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.Reactions = []domain.Reaction{}

	// Ответ должен указывать на сообщение той же комнаты
	if message.ReplyTo != nil {
		target, err := s.messageRepo.GetByID(ctx, *message.ReplyTo)
		if err != nil {
			return nil, apperrors.ErrInvalidReply
		}
		if target.RoomKey != message.RoomKey {
			return nil, apperrors.ErrInvalidReply
		}
	}

	if err := s.messageRepo.Insert(ctx, message); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrTimeout
		}
		// Несуществующий получатель - постоянная ошибка, ретрай не поможет
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	if s.cache != nil {
		if err := s.cache.Push(ctx, message.RoomKey, message, s.cacheSize); err != nil {
			s.log.Warn("Failed to cache appended message", "error", err)
		}
	}

	return message, nil
}

func (s *messageService) Get(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Deleted {
		return message.Tombstone(), nil
	}
	return message, nil
}

func (s *messageService) History(ctx context.Context, roomKey domain.RoomKey, after *time.Time, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	messages, err := s.messageRepo.List(ctx, roomKey, after, limit)
	if err != nil {
		return nil, err
	}

	return tombstoned(messages), nil
}

func (s *messageService) Recent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > s.cacheSize {
		limit = s.cacheSize
	}

	// Кешу верим только с полной страницей: после инвалидации ZSET
	// наполняется заново по одному сообщению и какое-то время держит
	// лишь часть хвоста
	if s.cache != nil {
		cached, err := s.cache.Recent(ctx, roomKey, limit)
		if err == nil && len(cached) >= limit {
			return tombstoned(cached), nil
		}
	}

	messages, err := s.messageRepo.ListRecent(ctx, roomKey, s.cacheSize)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Prime(ctx, roomKey, messages); err != nil {
			s.log.Warn("Failed to prime history cache", "room_key", roomKey.String())
		}
	}

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return tombstoned(messages), nil
}

func tombstoned(messages []*domain.Message) []*domain.Message {
	if messages == nil {
		return []*domain.Message{}
	}
	out := make([]*domain.Message, len(messages))
	for i, m := range messages {
		if m.Deleted {
			out[i] = m.Tombstone()
		} else {
			out[i] = m
		}
	}
	return out
}

func (s *messageService) AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*domain.Message, error) {
	if emoji == "" {
		return nil, apperrors.ErrBadRequest
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	// Реакции на удаленные сообщения не принимаются
	if message.Deleted {
		return nil, apperrors.ErrMessageNotFound
	}

	// Повторная реакция тем же emoji допускается - источник
	// уникальность не проверяет
	reaction := &domain.Reaction{
		ID:        uuid.New(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	}
	if err := s.messageRepo.InsertReaction(ctx, reaction); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	s.invalidate(ctx, message.RoomKey)
	return s.messageRepo.GetByID(ctx, messageID)
}

func (s *messageService) RemoveReaction(ctx context.Context, messageID, reactionID, requesterID uuid.UUID) (*domain.Message, error) {
	reaction, err := s.messageRepo.GetReaction(ctx, reactionID)
	if err != nil {
		return nil, err
	}
	if reaction.MessageID != messageID {
		return nil, apperrors.ErrNotFound
	}
	// Снять реакцию может только ее автор
	if reaction.UserID != requesterID {
		return nil, apperrors.ErrForbidden
	}

	if err := s.messageRepo.DeleteReaction(ctx, reactionID); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, message.RoomKey)
	return message, nil
}

func (s *messageService) SoftDelete(ctx context.Context, messageID, requesterID uuid.UUID) (*domain.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != requesterID {
		return nil, apperrors.ErrForbidden
	}

	if err := s.messageRepo.MarkDeleted(ctx, messageID); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	s.invalidate(ctx, message.RoomKey)
	return message.Tombstone(), nil
}

func (s *messageService) invalidate(ctx context.Context, roomKey domain.RoomKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, roomKey); err != nil {
		s.log.Warn("Failed to invalidate history cache", "room_key", roomKey.String())
	}
}
