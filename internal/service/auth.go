package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chat_relay/internal/config"
	"chat_relay/internal/domain"
	"chat_relay/internal/repository"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/jwt"
	"chat_relay/pkg/logger"
)

type AuthService interface {
	Register(ctx context.Context, name, email, mobile, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	VerifyEmail(ctx context.Context, token string) error
	// ValidateToken - точка Verify(token) -> userID для relay и REST-слоя
	ValidateToken(ctx context.Context, tokenString string) (*domain.User, error)
}

type LoginResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

type authService struct {
	userRepo repository.UserRepository
	jwtCfg   config.JWTConfig
	log      logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		jwtCfg:   jwtCfg,
		log:      log,
	}
}

func (s *authService) Register(ctx context.Context, name, email, mobile, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	mobile = strings.TrimSpace(mobile)
	password = strings.TrimSpace(password)

	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperrors.ErrBadRequest
	}
	if name == "" || len(name) > 100 {
		return nil, "", apperrors.ErrBadRequest
	}
	if len(password) < 8 {
		return nil, "", apperrors.ErrBadRequest
	}

	existing, _ := s.userRepo.GetByEmail(ctx, email)
	if existing != nil {
		return nil, "", apperrors.ErrUserAlreadyExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		return nil, "", apperrors.ErrInternalServer
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(passwordHash),
		Name:         name,
		IsVerified:   false,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if mobile != "" {
		user.Mobile = &mobile
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.log.Error("Failed to create user", "error", err, "email", email)
		return nil, "", apperrors.ErrInternalServer
	}

	// Токен подтверждения почты отдаем вызывающему слою, доставка - его забота
	verifyToken, err := jwt.GenerateToken(user.ID, user.Email, jwt.PurposeVerify, s.jwtCfg.Secret, s.jwtCfg.Issuer, s.jwtCfg.VerifyTTL)
	if err != nil {
		s.log.Error("Failed to generate verify token", "error", err)
		return nil, "", apperrors.ErrInternalServer
	}

	user.PasswordHash = ""
	return user, verifyToken, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		// Не раскрываем, существует ли пользователь
		return nil, apperrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, jwt.PurposeAccess, s.jwtCfg.Secret, s.jwtCfg.Issuer, s.jwtCfg.AccessTTL)
	if err != nil {
		s.log.Error("Failed to generate access token", "error", err)
		return nil, apperrors.ErrInternalServer
	}

	user.PasswordHash = ""
	return &LoginResponse{User: user, Token: token}, nil
}

func (s *authService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := jwt.ParseToken(token, jwt.PurposeVerify, s.jwtCfg.Secret)
	if err != nil {
		return err
	}
	return s.userRepo.SetVerified(ctx, claims.UserID)
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	claims, err := jwt.ParseToken(tokenString, jwt.PurposeAccess, s.jwtCfg.Secret)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.ErrUnauthorized
	}

	user.PasswordHash = ""
	return user, nil
}
