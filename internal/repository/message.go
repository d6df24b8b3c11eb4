package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type MessageRepository interface {
	Insert(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	List(ctx context.Context, roomKey domain.RoomKey, after *time.Time, limit int) ([]*domain.Message, error)
	ListRecent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error)
	InsertReaction(ctx context.Context, reaction *domain.Reaction) error
	GetReaction(ctx context.Context, reactionID uuid.UUID) (*domain.Reaction, error)
	DeleteReaction(ctx context.Context, reactionID uuid.UUID) error
	ListReactions(ctx context.Context, messageID uuid.UUID) ([]domain.Reaction, error)
	MarkDeleted(ctx context.Context, messageID uuid.UUID) error
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func (r *messageRepository) Insert(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (id, room_key, sender_id, receiver_id, group_id, message_type, content, file_url, file_type, reply_to, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		message.ID, message.RoomKey.String(), message.SenderID, message.ReceiverID, message.GroupID,
		message.MessageType, message.Content, message.FileURL, message.FileType,
		message.ReplyTo, message.Deleted, message.CreatedAt,
	)
	if err != nil {
		// Нарушение FK: получатель или группа не существуют,
		// это не сбой хранилища
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperrors.ErrNotFound
		}
		r.log.Error("Failed to insert message", "error", err)
		return err
	}

	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, room_key, sender_id, receiver_id, group_id, message_type, content, file_url, file_type, reply_to, deleted, created_at
		FROM messages
		WHERE id = $1
	`

	message, err := r.scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	reactions, err := r.ListReactions(ctx, id)
	if err != nil {
		return nil, err
	}
	message.Reactions = reactions

	return message, nil
}

func (r *messageRepository) scanMessage(row pgx.Row) (*domain.Message, error) {
	message := &domain.Message{}
	var roomKey string
	err := row.Scan(
		&message.ID, &roomKey, &message.SenderID, &message.ReceiverID, &message.GroupID,
		&message.MessageType, &message.Content, &message.FileURL, &message.FileType,
		&message.ReplyTo, &message.Deleted, &message.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to scan message", "error", err)
		return nil, err
	}
	message.RoomKey = domain.RoomKey(roomKey)
	return message, nil
}

func (r *messageRepository) List(ctx context.Context, roomKey domain.RoomKey, after *time.Time, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_key, sender_id, receiver_id, group_id, message_type, content, file_url, file_type, reply_to, deleted, created_at
		FROM messages
		WHERE room_key = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY created_at, id
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, roomKey.String(), after, limit)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "room_key", roomKey.String())
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	var ids []uuid.UUID
	for rows.Next() {
		message, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		message.Reactions = []domain.Reaction{}
		messages = append(messages, message)
		ids = append(ids, message.ID)
	}

	if len(ids) == 0 {
		return messages, nil
	}

	// Реакции подгружаем одним запросом на всю страницу
	byMessage, err := r.listReactionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		if reactions, ok := byMessage[message.ID]; ok {
			message.Reactions = reactions
		}
	}

	return messages, nil
}

func (r *messageRepository) ListRecent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_key, sender_id, receiver_id, group_id, message_type, content, file_url, file_type, reply_to, deleted, created_at
		FROM messages
		WHERE room_key = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, roomKey.String(), limit)
	if err != nil {
		r.log.Error("Failed to list recent messages", "error", err, "room_key", roomKey.String())
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	var ids []uuid.UUID
	for rows.Next() {
		message, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		message.Reactions = []domain.Reaction{}
		messages = append(messages, message)
		ids = append(ids, message.ID)
	}

	// Хвост выбран от новых к старым, разворачиваем в хронологию
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if len(ids) > 0 {
		byMessage, err := r.listReactionsFor(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, message := range messages {
			if reactions, ok := byMessage[message.ID]; ok {
				message.Reactions = reactions
			}
		}
	}

	return messages, nil
}

func (r *messageRepository) listReactionsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, messageIDs)
	if err != nil {
		r.log.Error("Failed to list reactions", "error", err)
		return nil, err
	}
	defer rows.Close()

	byMessage := make(map[uuid.UUID][]domain.Reaction)
	for rows.Next() {
		var reaction domain.Reaction
		err := rows.Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt)
		if err != nil {
			r.log.Error("Failed to scan reaction", "error", err)
			return nil, err
		}
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], reaction)
	}

	return byMessage, nil
}

func (r *messageRepository) InsertReaction(ctx context.Context, reaction *domain.Reaction) error {
	query := `
		INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
	if err != nil {
		r.log.Error("Failed to insert reaction", "error", err)
		return err
	}

	return nil
}

func (r *messageRepository) GetReaction(ctx context.Context, reactionID uuid.UUID) (*domain.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE id = $1
	`

	reaction := &domain.Reaction{}
	err := r.db.QueryRow(ctx, query, reactionID).Scan(
		&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.log.Error("Failed to get reaction", "error", err)
		return nil, err
	}

	return reaction, nil
}

func (r *messageRepository) DeleteReaction(ctx context.Context, reactionID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reactions WHERE id = $1`, reactionID)
	if err != nil {
		r.log.Error("Failed to delete reaction", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *messageRepository) ListReactions(ctx context.Context, messageID uuid.UUID) ([]domain.Reaction, error) {
	byMessage, err := r.listReactionsFor(ctx, []uuid.UUID{messageID})
	if err != nil {
		return nil, err
	}
	reactions := byMessage[messageID]
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	return reactions, nil
}

func (r *messageRepository) MarkDeleted(ctx context.Context, messageID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin tx", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE messages SET deleted = TRUE WHERE id = $1`, messageID)
	if err != nil {
		r.log.Error("Failed to mark message deleted", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMessageNotFound
	}

	// Реакции удаленного сообщения клиентам больше не отдаются
	if _, err := tx.Exec(ctx, `DELETE FROM reactions WHERE message_id = $1`, messageID); err != nil {
		r.log.Error("Failed to clear reactions of deleted message", "error", err)
		return err
	}

	return tx.Commit(ctx)
}
