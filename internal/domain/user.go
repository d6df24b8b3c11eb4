package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Mobile       *string   `json:"mobile,omitempty"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	ProfilePic   *string   `json:"profile_pic,omitempty"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Receiver - контакт из списка получателей с последним сообщением
type Receiver struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Mobile        *string    `json:"mobile,omitempty"`
	ProfilePic    *string    `json:"profile_pic,omitempty"`
	LastMessage   *string    `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}
