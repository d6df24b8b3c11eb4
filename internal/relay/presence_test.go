package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type fakeVerifier struct {
	users map[string]*domain.User
}

func (f *fakeVerifier) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	user, ok := f.users[token]
	if !ok {
		return nil, apperrors.ErrInvalidToken
	}
	return user, nil
}

func TestSupervisorConnectLifecycle(t *testing.T) {
	userID := uuid.New()
	verifier := &fakeVerifier{users: map[string]*domain.User{
		"good-token": {ID: userID, Email: "user@test.local"},
	}}
	registry := NewRegistry()
	supervisor := NewSupervisor(registry, verifier, logger.New("error"))

	ctx := context.Background()
	connID, gotUserID, err := supervisor.HandleConnect(ctx, "good-token", &captureSink{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if gotUserID != userID {
		t.Fatal("connect resolved the wrong user")
	}
	if registry.ConnectionCount() != 1 {
		t.Fatalf("expected 1 registered connection, got %d", registry.ConnectionCount())
	}

	// Повторный disconnect не паникует и не ломает счетчики
	supervisor.HandleDisconnect(connID)
	supervisor.HandleDisconnect(connID)
	if registry.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after disconnect, got %d", registry.ConnectionCount())
	}
}

func TestSupervisorRejectsBadToken(t *testing.T) {
	registry := NewRegistry()
	supervisor := NewSupervisor(registry, &fakeVerifier{}, logger.New("error"))

	_, _, err := supervisor.HandleConnect(context.Background(), "bad-token", &captureSink{})
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if registry.ConnectionCount() != 0 {
		t.Fatal("rejected connection was registered")
	}
}

func TestSupervisorMultipleConnectionsPerUser(t *testing.T) {
	userID := uuid.New()
	verifier := &fakeVerifier{users: map[string]*domain.User{
		"good-token": {ID: userID, Email: "user@test.local"},
	}}
	registry := NewRegistry()
	supervisor := NewSupervisor(registry, verifier, logger.New("error"))

	ctx := context.Background()
	first, _, err := supervisor.HandleConnect(ctx, "good-token", &captureSink{})
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	second, _, err := supervisor.HandleConnect(ctx, "good-token", &captureSink{})
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	if first == second {
		t.Fatal("two connections share a connection ID")
	}
	if registry.ConnectionCount() != 2 {
		t.Fatalf("expected 2 connections, got %d", registry.ConnectionCount())
	}
}
