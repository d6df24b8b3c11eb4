package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByEmailOrMobile(ctx context.Context, email, mobile string) (*domain.User, error)
	SetVerified(ctx context.Context, id uuid.UUID) error
	AddContact(ctx context.Context, userID, contactID uuid.UUID) error
	ListReceivers(ctx context.Context, userID uuid.UUID) ([]*domain.Receiver, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, mobile, password_hash, name, profile_pic, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.Mobile, user.PasswordHash,
		user.Name, user.ProfilePic, user.IsVerified, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create user", "error", err)
		return err
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

func (r *userRepository) FindByEmailOrMobile(ctx context.Context, email, mobile string) (*domain.User, error) {
	return r.getOne(ctx, `WHERE email = $1 OR mobile = $2`, email, mobile)
}

func (r *userRepository) getOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	query := `
		SELECT id, email, mobile, password_hash, name, profile_pic, is_verified, created_at, updated_at
		FROM users ` + where

	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Mobile, &user.PasswordHash,
		&user.Name, &user.ProfilePic, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.log.Error("Failed to get user", "error", err)
		return nil, err
	}

	return user, nil
}

func (r *userRepository) SetVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to verify user", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *userRepository) AddContact(ctx context.Context, userID, contactID uuid.UUID) error {
	query := `
		INSERT INTO contacts (user_id, contact_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, contact_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, userID, contactID)
	if err != nil {
		r.log.Error("Failed to add contact", "error", err)
		return err
	}

	return nil
}

func (r *userRepository) ListReceivers(ctx context.Context, userID uuid.UUID) ([]*domain.Receiver, error) {
	query := `
		SELECT u.id, u.name, u.email, u.mobile, u.profile_pic, lm.content, lm.created_at
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		LEFT JOIN LATERAL (
			SELECT m.content, m.created_at
			FROM messages m
			WHERE m.message_type = 'private'
			  AND ((m.sender_id = u.id AND m.receiver_id = $1) OR (m.sender_id = $1 AND m.receiver_id = u.id))
			ORDER BY m.created_at DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.user_id = $1
		ORDER BY lm.created_at DESC NULLS LAST, u.name
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list receivers", "error", err)
		return nil, err
	}
	defer rows.Close()

	var receivers []*domain.Receiver
	for rows.Next() {
		rec := &domain.Receiver{}
		var lastMessage sql.NullString
		var lastMessageAt sql.NullTime
		err := rows.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.Mobile, &rec.ProfilePic, &lastMessage, &lastMessageAt)
		if err != nil {
			r.log.Error("Failed to scan receiver", "error", err)
			return nil, err
		}
		if lastMessage.Valid {
			rec.LastMessage = &lastMessage.String
		}
		if lastMessageAt.Valid {
			rec.LastMessageAt = &lastMessageAt.Time
		}
		receivers = append(receivers, rec)
	}

	return receivers, nil
}
