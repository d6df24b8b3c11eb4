package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
)

// EventSink - исходящий канал одного соединения. Реализуется
// websocket-клиентом; в тестах подменяется фейком.
type EventSink interface {
	Send(event string, data any) error
}

type connEntry struct {
	userID       uuid.UUID
	sink         EventSink
	rooms        map[domain.RoomKey]struct{}
	lastActivity time.Time
}

// Registry - авторитетная карта соединение -> пользователь и подписки,
// плюс обратный индекс комната -> соединения для fan-out за O(1).
// Обратный индекс - самая горячая структура relay: каждый send читает,
// каждый join/leave/disconnect пишет, поэтому RWMutex.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	rooms map[domain.RoomKey]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connEntry),
		rooms: make(map[domain.RoomKey]map[string]struct{}),
	}
}

func (r *Registry) Register(connID string, userID uuid.UUID, sink EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return apperrors.ErrDuplicateConnection
	}

	r.conns[connID] = &connEntry{
		userID:       userID,
		sink:         sink,
		rooms:        make(map[domain.RoomKey]struct{}),
		lastActivity: time.Now(),
	}
	return nil
}

// Subscribe идемпотентна: повторная подписка ничего не меняет
func (r *Registry) Subscribe(connID string, roomKey domain.RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return apperrors.ErrNotFound
	}

	entry.rooms[roomKey] = struct{}{}
	if r.rooms[roomKey] == nil {
		r.rooms[roomKey] = make(map[string]struct{})
	}
	r.rooms[roomKey][connID] = struct{}{}
	return nil
}

func (r *Registry) Unsubscribe(connID string, roomKey domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.conns[connID]; ok {
		delete(entry.rooms, roomKey)
	}
	r.dropFromRoom(connID, roomKey)
}

func (r *Registry) dropFromRoom(connID string, roomKey domain.RoomKey) {
	if conns, ok := r.rooms[roomKey]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomKey)
		}
	}
}

// ConnectionsFor возвращает копию множества подписчиков: fan-out
// не должен гоняться с конкурентными join/leave по живой мапе
func (r *Registry) ConnectionsFor(roomKey domain.RoomKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.rooms[roomKey]
	snapshot := make([]string, 0, len(conns))
	for connID := range conns {
		snapshot = append(snapshot, connID)
	}
	return snapshot
}

// Deregister снимает соединение со всех комнат; возвращает false,
// если соединение уже снято - защита от двойного disconnect
func (r *Registry) Deregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return false
	}

	for roomKey := range entry.rooms {
		r.dropFromRoom(connID, roomKey)
	}
	delete(r.conns, connID)
	return true
}

func (r *Registry) UserID(connID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return uuid.Nil, false
	}
	return entry.userID, true
}

func (r *Registry) Sink(connID string) (EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return entry.sink, true
}

// Touch обновляет отметку активности соединения
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.conns[connID]; ok {
		entry.lastActivity = time.Now()
	}
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
