package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat_relay/internal/config"
	"chat_relay/internal/domain"
	"chat_relay/internal/relay"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type rejectingVerifier struct{}

func (rejectingVerifier) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	return nil, apperrors.ErrInvalidToken
}

func newWebSocketTestServer(t *testing.T) (*httptest.Server, *relay.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New("error")

	registry := relay.NewRegistry()
	supervisor := relay.NewSupervisor(registry, rejectingVerifier{}, log)
	engine := relay.NewEngine(registry, nil, nil, time.Second, log)
	h := NewWebSocketHandler(supervisor, engine, config.RelayConfig{
		SendBufferSize: 8,
		WriteWait:      time.Second,
		PongWait:       time.Second,
	}, log)

	router := gin.New()
	router.GET("/ws", h.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func TestWebSocketHandshakeRejection(t *testing.T) {
	srv, registry := newWebSocketTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bad"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Отказ приходит как типизированное error-событие до закрытия
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var env domain.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("failed to read rejection frame: %v", err)
	}
	if env.Event != domain.EventError {
		t.Fatalf("expected error event, got %q", env.Event)
	}

	var payload domain.ErrorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", payload.Code)
	}
	if payload.Retryable {
		t.Fatal("credential failure must not be retryable")
	}

	if registry.ConnectionCount() != 0 {
		t.Fatal("rejected connection was registered")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv, _ := newWebSocketTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}
