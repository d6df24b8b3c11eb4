package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	"chat_relay/internal/repository"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

const GroupRoleNone = "none"

type CreateGroupInput struct {
	Name         string
	Description  *string
	ProfilePic   *string
	Settings     domain.GroupSettings
	MemberEmails []string
}

type UpdateGroupInput struct {
	Name        *string
	Description *string
	ProfilePic  *string
	Settings    *domain.GroupSettings
}

// MembershipService - источник истины для авторизации действий в группах.
// Групповые записи читаются на каждый send и мутируются редко, поэтому
// держим их в памяти под RWMutex со сквозной записью в Postgres.
type MembershipService interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	Role(ctx context.Context, groupID, userID uuid.UUID) (string, error)
	CanSendToGroup(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	CanInvite(ctx context.Context, groupID, userID uuid.UUID) (bool, error)

	CreateGroup(ctx context.Context, creatorID uuid.UUID, input CreateGroupInput) (*domain.Group, error)
	GetGroup(ctx context.Context, groupID, requesterID uuid.UUID) (*domain.Group, error)
	ListGroups(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error)
	UpdateGroup(ctx context.Context, groupID, requesterID uuid.UUID, input UpdateGroupInput) (*domain.Group, error)
	DeleteGroup(ctx context.Context, groupID, requesterID uuid.UUID) error

	AddMember(ctx context.Context, groupID, requesterID uuid.UUID, emailOrMobile, role string) (*domain.GroupMember, error)
	RemoveMember(ctx context.Context, groupID, requesterID, memberID uuid.UUID) error
	ChangeRole(ctx context.Context, groupID, requesterID, memberID uuid.UUID, role string) error
	LeaveGroup(ctx context.Context, groupID, userID uuid.UUID) error
}

type membershipService struct {
	groupRepo repository.GroupRepository
	userRepo  repository.UserRepository
	log       logger.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*domain.Group
}

func NewMembershipService(groupRepo repository.GroupRepository, userRepo repository.UserRepository, log logger.Logger) MembershipService {
	return &membershipService{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		log:       log,
		cache:     make(map[uuid.UUID]*domain.Group),
	}
}

func (s *membershipService) group(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	s.mu.RLock()
	group, ok := s.cache[groupID]
	s.mu.RUnlock()
	if ok {
		return group, nil
	}

	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[groupID] = group
	s.mu.Unlock()

	return group, nil
}

// refresh перечитывает группу из хранилища после мутации
func (s *membershipService) refresh(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)

	s.mu.Lock()
	if err != nil {
		delete(s.cache, groupID)
	} else {
		s.cache[groupID] = group
	}
	s.mu.Unlock()

	return group, err
}

func (s *membershipService) evict(groupID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, groupID)
	s.mu.Unlock()
}

func (s *membershipService) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	role, err := s.Role(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return role != GroupRoleNone, nil
}

func (s *membershipService) Role(ctx context.Context, groupID, userID uuid.UUID) (string, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return GroupRoleNone, err
	}

	member := group.Member(userID)
	if member == nil {
		return GroupRoleNone, nil
	}
	// Создатель - всегда администратор, какой бы ни была запись
	if userID == group.CreatedBy {
		return domain.GroupRoleAdmin, nil
	}
	return member.Role, nil
}

func (s *membershipService) CanSendToGroup(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return false, err
	}

	role, err := s.Role(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if role == GroupRoleNone {
		return false, nil
	}
	if group.Settings.AdminOnlyMessages && role != domain.GroupRoleAdmin {
		return false, nil
	}
	return true, nil
}

func (s *membershipService) CanInvite(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return false, err
	}

	role, err := s.Role(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if role == domain.GroupRoleAdmin {
		return true, nil
	}
	return role == domain.GroupRoleParticipant && group.Settings.AllowMemberInvite, nil
}

func (s *membershipService) CreateGroup(ctx context.Context, creatorID uuid.UUID, input CreateGroupInput) (*domain.Group, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, apperrors.ErrBadRequest
	}

	now := time.Now()
	group := &domain.Group{
		ID:          uuid.New(),
		Name:        input.Name,
		Description: input.Description,
		ProfilePic:  input.ProfilePic,
		CreatedBy:   creatorID,
		Settings:    input.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	creator := &domain.GroupMember{
		ID:       uuid.New(),
		GroupID:  group.ID,
		UserID:   creatorID,
		Role:     domain.GroupRoleAdmin,
		JoinedAt: now,
	}

	if err := s.groupRepo.Create(ctx, group, creator); err != nil {
		return nil, err
	}

	// Начальные участники по email; неизвестные адреса пропускаем
	for _, email := range input.MemberEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		user, err := s.userRepo.GetByEmail(ctx, email)
		if err != nil {
			s.log.Warn("Skipping unknown group member", "email", email)
			continue
		}
		if user.ID == creatorID {
			continue
		}
		member := &domain.GroupMember{
			ID:       uuid.New(),
			GroupID:  group.ID,
			UserID:   user.ID,
			Role:     domain.GroupRoleParticipant,
			JoinedAt: time.Now(),
		}
		if err := s.groupRepo.AddMember(ctx, member); err != nil {
			s.log.Warn("Failed to add initial group member", "error", err, "email", email)
		}
	}

	return s.refresh(ctx, group.ID)
}

func (s *membershipService) GetGroup(ctx context.Context, groupID, requesterID uuid.UUID) (*domain.Group, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Member(requesterID) == nil {
		return nil, apperrors.ErrForbidden
	}
	return group, nil
}

func (s *membershipService) ListGroups(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	groups, err := s.groupRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []*domain.Group{}
	}
	return groups, nil
}

func (s *membershipService) UpdateGroup(ctx context.Context, groupID, requesterID uuid.UUID, input UpdateGroupInput) (*domain.Group, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	role, err := s.Role(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if role != domain.GroupRoleAdmin {
		return nil, apperrors.ErrForbidden
	}

	updated := *group
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, apperrors.ErrBadRequest
		}
		updated.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		updated.Description = input.Description
	}
	if input.ProfilePic != nil {
		updated.ProfilePic = input.ProfilePic
	}
	if input.Settings != nil {
		updated.Settings = *input.Settings
	}

	if err := s.groupRepo.Update(ctx, &updated); err != nil {
		return nil, err
	}

	return s.refresh(ctx, groupID)
}

func (s *membershipService) DeleteGroup(ctx context.Context, groupID, requesterID uuid.UUID) error {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	// Удалять группу может только создатель
	if group.CreatedBy != requesterID {
		return apperrors.ErrForbidden
	}

	if err := s.groupRepo.Delete(ctx, groupID); err != nil {
		return err
	}
	s.evict(groupID)
	return nil
}

func (s *membershipService) AddMember(ctx context.Context, groupID, requesterID uuid.UUID, emailOrMobile, role string) (*domain.GroupMember, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.CanInvite(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.ErrForbidden
	}

	if role == "" {
		role = domain.GroupRoleParticipant
	}
	if role != domain.GroupRoleAdmin && role != domain.GroupRoleParticipant {
		return nil, apperrors.ErrBadRequest
	}
	// Назначать администраторов может только администратор
	if role == domain.GroupRoleAdmin {
		requesterRole, err := s.Role(ctx, groupID, requesterID)
		if err != nil {
			return nil, err
		}
		if requesterRole != domain.GroupRoleAdmin {
			return nil, apperrors.ErrForbidden
		}
	}

	emailOrMobile = strings.TrimSpace(emailOrMobile)
	user, err := s.userRepo.FindByEmailOrMobile(ctx, strings.ToLower(emailOrMobile), emailOrMobile)
	if err != nil {
		return nil, err
	}
	if group.Member(user.ID) != nil {
		return nil, apperrors.ErrUserAlreadyExists
	}

	member := &domain.GroupMember{
		ID:       uuid.New(),
		GroupID:  groupID,
		UserID:   user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     role,
		JoinedAt: time.Now(),
	}
	if err := s.groupRepo.AddMember(ctx, member); err != nil {
		return nil, err
	}
	if _, err := s.refresh(ctx, groupID); err != nil {
		return nil, err
	}

	return member, nil
}

func (s *membershipService) RemoveMember(ctx context.Context, groupID, requesterID, memberID uuid.UUID) error {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}

	member := group.MemberByID(memberID)
	if member == nil {
		return apperrors.ErrMemberNotFound
	}

	role, err := s.Role(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	if role != domain.GroupRoleAdmin {
		return apperrors.ErrForbidden
	}
	// Создателя из группы не удалить, группа удаляется целиком
	if member.UserID == group.CreatedBy {
		return apperrors.ErrForbidden
	}

	if err := s.groupRepo.RemoveMember(ctx, groupID, memberID); err != nil {
		return err
	}
	_, err = s.refresh(ctx, groupID)
	return err
}

func (s *membershipService) ChangeRole(ctx context.Context, groupID, requesterID, memberID uuid.UUID, role string) error {
	if role != domain.GroupRoleAdmin && role != domain.GroupRoleParticipant {
		return apperrors.ErrBadRequest
	}

	group, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}

	member := group.MemberByID(memberID)
	if member == nil {
		return apperrors.ErrMemberNotFound
	}

	requesterRole, err := s.Role(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	if requesterRole != domain.GroupRoleAdmin {
		return apperrors.ErrForbidden
	}
	// Роль создателя не понижается
	if member.UserID == group.CreatedBy {
		return apperrors.ErrForbidden
	}

	if err := s.groupRepo.UpdateMemberRole(ctx, groupID, memberID, role); err != nil {
		return err
	}
	_, err = s.refresh(ctx, groupID)
	return err
}

func (s *membershipService) LeaveGroup(ctx context.Context, groupID, userID uuid.UUID) error {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}

	member := group.Member(userID)
	if member == nil {
		return apperrors.ErrMemberNotFound
	}

	// Последний участник забирает группу с собой
	if len(group.Members) == 1 {
		if err := s.groupRepo.Delete(ctx, groupID); err != nil {
			return err
		}
		s.evict(groupID)
		return nil
	}

	if err := s.groupRepo.RemoveMember(ctx, groupID, member.ID); err != nil {
		return err
	}

	group, err = s.refresh(ctx, groupID)
	if err != nil {
		return err
	}

	// Группа не остается без администратора: повышаем участника
	// с самым ранним joined_at (члены отсортированы по joined_at)
	if group.AdminCount() == 0 && len(group.Members) > 0 {
		oldest := group.Members[0]
		if err := s.groupRepo.UpdateMemberRole(ctx, groupID, oldest.ID, domain.GroupRoleAdmin); err != nil {
			return err
		}
		if _, err := s.refresh(ctx, groupID); err != nil {
			return err
		}
	}

	return nil
}
