package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

type Message struct {
	ID          uuid.UUID  `json:"id"`
	RoomKey     RoomKey    `json:"room_key"`
	SenderID    uuid.UUID  `json:"sender_id"`
	ReceiverID  *uuid.UUID `json:"receiver_id,omitempty"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	MessageType string     `json:"message_type"`
	Content     string     `json:"content,omitempty"`
	FileURL     *string    `json:"file_url,omitempty"`
	FileType    *string    `json:"file_type,omitempty"`
	ReplyTo     *uuid.UUID `json:"reply_to,omitempty"`
	Reactions   []Reaction `json:"reactions"`
	Deleted     bool       `json:"deleted"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Tombstone возвращает копию сообщения, пригодную для выдачи клиентам
// после soft-delete: содержимое, файл и реакции скрыты, порядок и
// идентификаторы сохранены.
func (m *Message) Tombstone() *Message {
	t := *m
	t.Content = ""
	t.FileURL = nil
	t.FileType = nil
	t.Reactions = []Reaction{}
	t.Deleted = true
	return &t
}
