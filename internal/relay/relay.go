package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

// Membership - срез MembershipService, нужный движку для проверок
type Membership interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	CanSendToGroup(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

// MessageStore - срез MessageService, нужный движку для записи
type MessageStore interface {
	Append(ctx context.Context, message *domain.Message) (*domain.Message, error)
	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*domain.Message, error)
	RemoveReaction(ctx context.Context, messageID, reactionID, requesterID uuid.UUID) (*domain.Message, error)
}

// Engine валидирует, сохраняет и рассылает каждое входящее событие.
// Порядок сообщений в комнате обеспечивает мьютекс на RoomKey:
// append и fan-out выполняются под ним, поэтому History и подписчики
// видят сообщения в одном порядке. Мутации реакций сериализуются
// мьютексом на message ID.
type Engine struct {
	registry   *Registry
	membership Membership
	messages   MessageStore
	deadline   time.Duration
	log        logger.Logger

	roomLocks keyedMutex
	msgLocks  keyedMutex
}

func NewEngine(registry *Registry, membership Membership, messages MessageStore, deadline time.Duration, log logger.Logger) *Engine {
	return &Engine{
		registry:   registry,
		membership: membership,
		messages:   messages,
		deadline:   deadline,
		log:        log,
	}
}

// keyedMutex - мьютекс по строковому ключу (комната, сообщение)
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// HandleEvent разбирает конверт и выполняет событие. Ошибка уходит
// только инициатору, другие подписчики ее не видят.
func (e *Engine) HandleEvent(ctx context.Context, connID string, env domain.Envelope) {
	e.registry.Touch(connID)

	var err error
	switch env.Event {
	case domain.EventJoinRoom:
		err = e.joinRoom(ctx, connID, env.Data, true)
	case domain.EventLeaveRoom:
		err = e.joinRoom(ctx, connID, env.Data, false)
	case domain.EventJoinGroup:
		err = e.joinGroup(ctx, connID, env.Data, true)
	case domain.EventLeaveGroup:
		err = e.joinGroup(ctx, connID, env.Data, false)
	case domain.EventSendMessage:
		err = e.sendPrivate(ctx, connID, env.Data)
	case domain.EventSendGroupMessage:
		err = e.sendGroup(ctx, connID, env.Data)
	case domain.EventAddReaction:
		err = e.addReaction(ctx, connID, env.Data)
	case domain.EventRemoveReaction:
		err = e.removeReaction(ctx, connID, env.Data)
	default:
		err = apperrors.ErrBadRequest
	}

	if err != nil {
		e.sendError(connID, env.Event, err)
	}
}

func (e *Engine) sendError(connID, event string, err error) {
	sink, ok := e.registry.Sink(connID)
	if !ok {
		return
	}

	payload := domain.ErrorPayload{
		Event:     event,
		Code:      apperrors.WireCode(err),
		Message:   err.Error(),
		Retryable: apperrors.Retryable(err),
	}
	if sendErr := sink.Send(domain.EventError, payload); sendErr != nil {
		e.log.Warn("Failed to deliver error to origin", "conn_id", connID, "error", sendErr)
	}

	if apperrors.Retryable(err) {
		e.log.Error("Event failed with retryable error", "event", event, "conn_id", connID, "error", err)
	}
}

// identity сверяет заявленного отправителя с владельцем соединения
func (e *Engine) identity(connID string, claimed uuid.UUID) error {
	userID, ok := e.registry.UserID(connID)
	if !ok {
		return apperrors.ErrUnauthorized
	}
	if userID != claimed {
		return apperrors.ErrForbidden
	}
	return nil
}

func (e *Engine) joinRoom(ctx context.Context, connID string, data json.RawMessage, join bool) error {
	var payload domain.JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.SenderID == uuid.Nil || payload.ReceiverID == uuid.Nil {
		return apperrors.ErrBadRequest
	}
	if err := e.identity(connID, payload.SenderID); err != nil {
		return err
	}

	roomKey := domain.PrivateRoomKey(payload.SenderID, payload.ReceiverID)
	if join {
		return e.registry.Subscribe(connID, roomKey)
	}
	e.registry.Unsubscribe(connID, roomKey)
	return nil
}

func (e *Engine) joinGroup(ctx context.Context, connID string, data json.RawMessage, join bool) error {
	var payload domain.JoinGroupPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.GroupID == uuid.Nil || payload.UserID == uuid.Nil {
		return apperrors.ErrBadRequest
	}
	if err := e.identity(connID, payload.UserID); err != nil {
		return err
	}

	roomKey := domain.GroupRoomKey(payload.GroupID)
	if !join {
		// Socket-уровневый leave не трогает членство в группе
		e.registry.Unsubscribe(connID, roomKey)
		return nil
	}

	// Подписка на группу - только для состоящих в ней
	isMember, err := e.membership.IsMember(ctx, payload.GroupID, payload.UserID)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.ErrForbidden
	}

	return e.registry.Subscribe(connID, roomKey)
}

func (e *Engine) sendPrivate(ctx context.Context, connID string, data json.RawMessage) error {
	var payload domain.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.SenderID == uuid.Nil || payload.ReceiverID == uuid.Nil {
		return apperrors.ErrBadRequest
	}
	if err := e.identity(connID, payload.SenderID); err != nil {
		return err
	}

	receiverID := payload.ReceiverID
	message := &domain.Message{
		RoomKey:     domain.PrivateRoomKey(payload.SenderID, payload.ReceiverID),
		SenderID:    payload.SenderID,
		ReceiverID:  &receiverID,
		MessageType: domain.MessageTypePrivate,
		Content:     payload.Content,
		FileURL:     payload.FileURL,
		FileType:    payload.FileType,
		ReplyTo:     payload.ReplyTo,
	}

	return e.persistAndFanOut(ctx, message, domain.EventReceiveMessage)
}

func (e *Engine) sendGroup(ctx context.Context, connID string, data json.RawMessage) error {
	var payload domain.SendGroupMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.SenderID == uuid.Nil || payload.GroupID == uuid.Nil {
		return apperrors.ErrBadRequest
	}
	if err := e.identity(connID, payload.SenderID); err != nil {
		return err
	}

	allowed, err := e.membership.CanSendToGroup(ctx, payload.GroupID, payload.SenderID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperrors.ErrForbidden
	}

	groupID := payload.GroupID
	message := &domain.Message{
		RoomKey:     domain.GroupRoomKey(payload.GroupID),
		SenderID:    payload.SenderID,
		GroupID:     &groupID,
		MessageType: domain.MessageTypeGroup,
		Content:     payload.Content,
		FileURL:     payload.FileURL,
		FileType:    payload.FileType,
		ReplyTo:     payload.ReplyTo,
	}

	return e.persistAndFanOut(ctx, message, domain.EventReceiveGroupMessage)
}

func (e *Engine) persistAndFanOut(ctx context.Context, message *domain.Message, event string) error {
	// Один писатель на комнату: конкурентные send не перемешиваются
	lock := e.roomLocks.get(message.RoomKey.String())
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	persisted, err := e.messages.Append(ctx, message)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.ErrTimeout
		}
		return err
	}

	e.fanOut(message.RoomKey, event, persisted)
	return nil
}

// fanOut доставляет событие всем живым подписчикам комнаты по снимку
// реестра; отвал отдельного получателя не срывает рассылку
func (e *Engine) fanOut(roomKey domain.RoomKey, event string, data any) {
	for _, connID := range e.registry.ConnectionsFor(roomKey) {
		sink, ok := e.registry.Sink(connID)
		if !ok {
			continue
		}
		if err := sink.Send(event, data); err != nil {
			e.log.Debug("Fan-out delivery skipped", "conn_id", connID, "event", event, "error", err)
		}
	}
}

func (e *Engine) addReaction(ctx context.Context, connID string, data json.RawMessage) error {
	var payload domain.AddReactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.MessageID == uuid.Nil || payload.UserID == uuid.Nil || payload.Emoji == "" {
		return apperrors.ErrBadRequest
	}
	if err := e.identity(connID, payload.UserID); err != nil {
		return err
	}

	lock := e.msgLocks.get(payload.MessageID.String())
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	updated, err := e.messages.AddReaction(ctx, payload.MessageID, payload.UserID, payload.Emoji)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.ErrTimeout
		}
		return err
	}

	e.fanOut(updated.RoomKey, domain.EventMessageReactionAdded, domain.ReactionUpdatePayload{
		MessageID: updated.ID,
		Reactions: updated.Reactions,
	})
	return nil
}

func (e *Engine) removeReaction(ctx context.Context, connID string, data json.RawMessage) error {
	var payload domain.RemoveReactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return apperrors.ErrBadRequest
	}
	if payload.MessageID == uuid.Nil || payload.ReactionID == uuid.Nil {
		return apperrors.ErrBadRequest
	}

	userID, ok := e.registry.UserID(connID)
	if !ok {
		return apperrors.ErrUnauthorized
	}

	lock := e.msgLocks.get(payload.MessageID.String())
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	updated, err := e.messages.RemoveReaction(ctx, payload.MessageID, payload.ReactionID, userID)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.ErrTimeout
		}
		return err
	}

	e.fanOut(updated.RoomKey, domain.EventMessageReactionRemoved, domain.ReactionUpdatePayload{
		MessageID: updated.ID,
		Reactions: updated.Reactions,
	})
	return nil
}
