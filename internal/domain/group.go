package domain

import (
	"time"

	"github.com/google/uuid"
)

type Group struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	ProfilePic  *string       `json:"profile_pic,omitempty"`
	CreatedBy   uuid.UUID     `json:"created_by"`
	Settings    GroupSettings `json:"settings"`
	Members     []GroupMember `json:"members,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type GroupSettings struct {
	IsPrivate         bool `json:"is_private"`
	AllowMemberInvite bool `json:"allow_member_invite"`
	AdminOnlyMessages bool `json:"admin_only_messages"`
}

type GroupMember struct {
	ID       uuid.UUID `json:"id"`
	GroupID  uuid.UUID `json:"group_id"`
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

const (
	GroupRoleAdmin       = "admin"
	GroupRoleParticipant = "participant"
)

// Member возвращает запись участника по его user ID
func (g *Group) Member(userID uuid.UUID) *GroupMember {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return &g.Members[i]
		}
	}
	return nil
}

// MemberByID возвращает запись участника по ID самой записи
func (g *Group) MemberByID(memberID uuid.UUID) *GroupMember {
	for i := range g.Members {
		if g.Members[i].ID == memberID {
			return &g.Members[i]
		}
	}
	return nil
}

func (g *Group) AdminCount() int {
	n := 0
	for i := range g.Members {
		if g.Members[i].Role == GroupRoleAdmin {
			n++
		}
	}
	return n
}
