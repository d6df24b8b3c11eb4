package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Входящие события (клиент -> relay)
const (
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventJoinGroup        = "join_group"
	EventLeaveGroup       = "leave_group"
	EventSendMessage      = "send_message"
	EventSendGroupMessage = "send_group_message"
	EventAddReaction      = "add_reaction"
	EventRemoveReaction   = "remove_reaction"
)

// Исходящие события (relay -> подписчики)
const (
	EventReceiveMessage         = "receive_message"
	EventReceiveGroupMessage    = "receive_group_message"
	EventMessageReactionAdded   = "message_reaction_added"
	EventMessageReactionRemoved = "message_reaction_removed"
	EventError                  = "error"
)

// Envelope - общий конверт socket-события; data разбирается
// в типизированный payload по имени события до бизнес-логики.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinRoomPayload struct {
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

type JoinGroupPayload struct {
	GroupID uuid.UUID `json:"groupId"`
	UserID  uuid.UUID `json:"userId"`
}

type SendMessagePayload struct {
	SenderID    uuid.UUID  `json:"senderId"`
	ReceiverID  uuid.UUID  `json:"receiverId"`
	Content     string     `json:"content"`
	MessageType string     `json:"messageType"`
	ReplyTo     *uuid.UUID `json:"replyTo,omitempty"`
	FileURL     *string    `json:"fileUrl,omitempty"`
	FileType    *string    `json:"fileType,omitempty"`
}

type SendGroupMessagePayload struct {
	SenderID    uuid.UUID  `json:"senderId"`
	GroupID     uuid.UUID  `json:"groupId"`
	Content     string     `json:"content"`
	MessageType string     `json:"messageType"`
	ReplyTo     *uuid.UUID `json:"replyTo,omitempty"`
	FileURL     *string    `json:"fileUrl,omitempty"`
	FileType    *string    `json:"fileType,omitempty"`
}

type AddReactionPayload struct {
	MessageID uuid.UUID  `json:"messageId"`
	UserID    uuid.UUID  `json:"userId"`
	Emoji     string     `json:"emoji"`
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
}

type RemoveReactionPayload struct {
	MessageID  uuid.UUID `json:"messageId"`
	ReactionID uuid.UUID `json:"reactionId"`
}

// ReactionUpdatePayload - исходящий payload мутации реакций: id сообщения
// и полный актуальный список реакций, клиент замещает свой список целиком.
type ReactionUpdatePayload struct {
	MessageID uuid.UUID  `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// ErrorPayload отправляется только инициатору события, чтобы неудачная
// отправка не пропадала молча.
type ErrorPayload struct {
	Event     string `json:"event"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
