package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error)
	Update(ctx context.Context, group *domain.Group) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, member *domain.GroupMember) error
	RemoveMember(ctx context.Context, groupID, memberID uuid.UUID) error
	UpdateMemberRole(ctx context.Context, groupID, memberID uuid.UUID, role string) error
}

type groupRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewGroupRepository(db *pgxpool.Pool, log logger.Logger) GroupRepository {
	return &groupRepository{db: db, log: log}
}

func (r *groupRepository) Create(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin tx", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO groups (id, name, description, profile_pic, created_by, is_private, allow_member_invite, admin_only_messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, query,
		group.ID, group.Name, group.Description, group.ProfilePic, group.CreatedBy,
		group.Settings.IsPrivate, group.Settings.AllowMemberInvite, group.Settings.AdminOnlyMessages,
		group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		r.log.Error("Failed to create group", "error", err)
		return err
	}

	// Создатель всегда становится администратором
	query = `
		INSERT INTO group_members (id, group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, query, creator.ID, creator.GroupID, creator.UserID, creator.Role, creator.JoinedAt)
	if err != nil {
		r.log.Error("Failed to add group creator", "error", err)
		return err
	}

	return tx.Commit(ctx)
}

func (r *groupRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	query := `
		SELECT id, name, description, profile_pic, created_by, is_private, allow_member_invite, admin_only_messages, created_at, updated_at
		FROM groups
		WHERE id = $1
	`

	group := &domain.Group{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&group.ID, &group.Name, &group.Description, &group.ProfilePic, &group.CreatedBy,
		&group.Settings.IsPrivate, &group.Settings.AllowMemberInvite, &group.Settings.AdminOnlyMessages,
		&group.CreatedAt, &group.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrGroupNotFound
		}
		r.log.Error("Failed to get group", "error", err)
		return nil, err
	}

	members, err := r.listMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members

	return group, nil
}

func (r *groupRepository) listMembers(ctx context.Context, groupID uuid.UUID) ([]domain.GroupMember, error) {
	query := `
		SELECT gm.id, gm.group_id, gm.user_id, u.name, u.email, gm.role, gm.joined_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at
	`

	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		r.log.Error("Failed to list group members", "error", err)
		return nil, err
	}
	defer rows.Close()

	var members []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Name, &m.Email, &m.Role, &m.JoinedAt)
		if err != nil {
			r.log.Error("Failed to scan group member", "error", err)
			return nil, err
		}
		members = append(members, m)
	}

	return members, nil
}

func (r *groupRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	query := `
		SELECT g.id, g.name, g.description, g.profile_pic, g.created_by, g.is_private, g.allow_member_invite, g.admin_only_messages, g.created_at, g.updated_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list groups", "error", err)
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.Group
	for rows.Next() {
		group := &domain.Group{}
		err := rows.Scan(
			&group.ID, &group.Name, &group.Description, &group.ProfilePic, &group.CreatedBy,
			&group.Settings.IsPrivate, &group.Settings.AllowMemberInvite, &group.Settings.AdminOnlyMessages,
			&group.CreatedAt, &group.UpdatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan group", "error", err)
			return nil, err
		}
		groups = append(groups, group)
	}

	return groups, nil
}

func (r *groupRepository) Update(ctx context.Context, group *domain.Group) error {
	query := `
		UPDATE groups
		SET name = $2, description = $3, profile_pic = $4,
		    is_private = $5, allow_member_invite = $6, admin_only_messages = $7,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		group.ID, group.Name, group.Description, group.ProfilePic,
		group.Settings.IsPrivate, group.Settings.AllowMemberInvite, group.Settings.AdminOnlyMessages,
	).Scan(&group.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrGroupNotFound
		}
		r.log.Error("Failed to update group", "error", err)
		return err
	}

	return nil
}

func (r *groupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete group", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrGroupNotFound
	}
	return nil
}

func (r *groupRepository) AddMember(ctx context.Context, member *domain.GroupMember) error {
	query := `
		INSERT INTO group_members (id, group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, member.ID, member.GroupID, member.UserID, member.Role, member.JoinedAt)
	if err != nil {
		r.log.Error("Failed to add group member", "error", err)
		return err
	}

	return nil
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, memberID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND id = $2`, groupID, memberID)
	if err != nil {
		r.log.Error("Failed to remove group member", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMemberNotFound
	}
	return nil
}

func (r *groupRepository) UpdateMemberRole(ctx context.Context, groupID, memberID uuid.UUID, role string) error {
	tag, err := r.db.Exec(ctx, `UPDATE group_members SET role = $3 WHERE group_id = $1 AND id = $2`, groupID, memberID, role)
	if err != nil {
		r.log.Error("Failed to update member role", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMemberNotFound
	}
	return nil
}
