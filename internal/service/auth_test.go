package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat_relay/internal/config"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

func newTestAuthService() (AuthService, *memUserRepo) {
	repo := newMemUserRepo()
	cfg := config.JWTConfig{
		Secret:    "test-secret",
		Issuer:    "chat-relay-test",
		AccessTTL: time.Hour,
		VerifyTTL: time.Hour,
	}
	return NewAuthService(repo, cfg, logger.New("error")), repo
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	user, verifyToken, err := svc.Register(ctx, "Alice", "Alice@Test.Local", "", "secret-pass")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Email != "alice@test.local" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash != "" {
		t.Fatal("password hash leaked from Register")
	}
	if verifyToken == "" {
		t.Fatal("no verify token issued")
	}

	resp, err := svc.Login(ctx, "alice@test.local", "secret-pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("no access token issued")
	}
	if resp.User.PasswordHash != "" {
		t.Fatal("password hash leaked from Login")
	}

	validated, err := svc.ValidateToken(ctx, resp.Token)
	if err != nil {
		t.Fatalf("validate token failed: %v", err)
	}
	if validated.ID != user.ID {
		t.Fatal("token resolved to the wrong user")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		want     error
	}{
		{"bad email", "Alice", "not-an-email", "secret-pass", apperrors.ErrBadRequest},
		{"empty name", "", "alice@test.local", "secret-pass", apperrors.ErrBadRequest},
		{"short password", "Alice", "alice@test.local", "short", apperrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tt.userName, tt.email, "", tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "Alice", "alice@test.local", "", "secret-pass"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, _, err := svc.Register(ctx, "Alice Again", "alice@test.local", "", "secret-pass")
	if !errors.Is(err, apperrors.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestAuthService()
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "Alice", "alice@test.local", "", "secret-pass"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@test.local", "wrong-pass"); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// Неизвестный email дает ту же ошибку, что и неверный пароль
	if _, err := svc.Login(ctx, "nobody@test.local", "secret-pass"); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	svc, repo := newTestAuthService()
	ctx := context.Background()

	user, verifyToken, err := svc.Register(ctx, "Alice", "alice@test.local", "", "secret-pass")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Токен подтверждения не годится как access-токен
	if _, err := svc.ValidateToken(ctx, verifyToken); err == nil {
		t.Fatal("verify token accepted as access token")
	}

	if err := svc.VerifyEmail(ctx, verifyToken); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !stored.IsVerified {
		t.Fatal("user not marked verified")
	}

	// Access-токен не годится для подтверждения почты
	resp, err := svc.Login(ctx, "alice@test.local", "secret-pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.Token); err == nil {
		t.Fatal("access token accepted as verify token")
	}
}
