package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	"chat_relay/internal/repository"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type UserService interface {
	ListReceivers(ctx context.Context, userID uuid.UUID) ([]*domain.Receiver, error)
	AddReceiver(ctx context.Context, userID uuid.UUID, emailOrMobile string) (*domain.Receiver, error)
}

type userService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, log logger.Logger) UserService {
	return &userService{userRepo: userRepo, log: log}
}

func (s *userService) ListReceivers(ctx context.Context, userID uuid.UUID) ([]*domain.Receiver, error) {
	receivers, err := s.userRepo.ListReceivers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if receivers == nil {
		receivers = []*domain.Receiver{}
	}
	return receivers, nil
}

func (s *userService) AddReceiver(ctx context.Context, userID uuid.UUID, emailOrMobile string) (*domain.Receiver, error) {
	emailOrMobile = strings.TrimSpace(emailOrMobile)
	if emailOrMobile == "" {
		return nil, apperrors.ErrBadRequest
	}

	contact, err := s.userRepo.FindByEmailOrMobile(ctx, strings.ToLower(emailOrMobile), emailOrMobile)
	if err != nil {
		return nil, err
	}
	if contact.ID == userID {
		return nil, apperrors.ErrBadRequest
	}

	// Контакт добавляется в обе стороны
	if err := s.userRepo.AddContact(ctx, userID, contact.ID); err != nil {
		return nil, err
	}
	if err := s.userRepo.AddContact(ctx, contact.ID, userID); err != nil {
		return nil, err
	}

	return &domain.Receiver{
		ID:         contact.ID,
		Name:       contact.Name,
		Email:      contact.Email,
		Mobile:     contact.Mobile,
		ProfilePic: contact.ProfilePic,
	}, nil
}
