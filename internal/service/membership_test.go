package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"chat_relay/internal/domain"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type memGroupRepo struct {
	groups map[uuid.UUID]*domain.Group
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{groups: make(map[uuid.UUID]*domain.Group)}
}

func (r *memGroupRepo) Create(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error {
	stored := *group
	stored.Members = []domain.GroupMember{*creator}
	r.groups[group.ID] = &stored
	return nil
}

func (r *memGroupRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	group, ok := r.groups[id]
	if !ok {
		return nil, apperrors.ErrGroupNotFound
	}
	cp := *group
	cp.Members = append([]domain.GroupMember(nil), group.Members...)
	sort.SliceStable(cp.Members, func(i, j int) bool {
		return cp.Members[i].JoinedAt.Before(cp.Members[j].JoinedAt)
	})
	return &cp, nil
}

func (r *memGroupRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	var out []*domain.Group
	for id, group := range r.groups {
		for _, m := range group.Members {
			if m.UserID == userID {
				cp, _ := r.GetByID(ctx, id)
				out = append(out, cp)
				break
			}
		}
	}
	return out, nil
}

func (r *memGroupRepo) Update(ctx context.Context, group *domain.Group) error {
	stored, ok := r.groups[group.ID]
	if !ok {
		return apperrors.ErrGroupNotFound
	}
	stored.Name = group.Name
	stored.Description = group.Description
	stored.ProfilePic = group.ProfilePic
	stored.Settings = group.Settings
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memGroupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.groups[id]; !ok {
		return apperrors.ErrGroupNotFound
	}
	delete(r.groups, id)
	return nil
}

func (r *memGroupRepo) AddMember(ctx context.Context, member *domain.GroupMember) error {
	group, ok := r.groups[member.GroupID]
	if !ok {
		return apperrors.ErrGroupNotFound
	}
	for _, m := range group.Members {
		if m.UserID == member.UserID {
			return nil
		}
	}
	group.Members = append(group.Members, *member)
	return nil
}

func (r *memGroupRepo) RemoveMember(ctx context.Context, groupID, memberID uuid.UUID) error {
	group, ok := r.groups[groupID]
	if !ok {
		return apperrors.ErrGroupNotFound
	}
	for i, m := range group.Members {
		if m.ID == memberID {
			group.Members = append(group.Members[:i], group.Members[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrMemberNotFound
}

func (r *memGroupRepo) UpdateMemberRole(ctx context.Context, groupID, memberID uuid.UUID, role string) error {
	group, ok := r.groups[groupID]
	if !ok {
		return apperrors.ErrGroupNotFound
	}
	for i := range group.Members {
		if group.Members[i].ID == memberID {
			group.Members[i].Role = role
			return nil
		}
	}
	return apperrors.ErrMemberNotFound
}

type memUserRepo struct {
	byEmail map[string]*domain.User
}

func newMemUserRepo(users ...*domain.User) *memUserRepo {
	r := &memUserRepo{byEmail: make(map[string]*domain.User)}
	for _, u := range users {
		r.byEmail[u.Email] = u
	}
	return r
}

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) error {
	cp := *user
	r.byEmail[user.Email] = &cp
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, u := range r.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, ok := r.byEmail[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *memUserRepo) FindByEmailOrMobile(ctx context.Context, email, mobile string) (*domain.User, error) {
	return r.GetByEmail(ctx, email)
}

func (r *memUserRepo) SetVerified(ctx context.Context, id uuid.UUID) error {
	for _, u := range r.byEmail {
		if u.ID == id {
			u.IsVerified = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memUserRepo) AddContact(ctx context.Context, userID, contactID uuid.UUID) error { return nil }

func (r *memUserRepo) ListReceivers(ctx context.Context, userID uuid.UUID) ([]*domain.Receiver, error) {
	return nil, nil
}

type membershipFixture struct {
	svc         MembershipService
	users       *memUserRepo
	groupID     uuid.UUID
	creator     uuid.UUID
	participant uuid.UUID
	outsider    uuid.UUID
}

// seedGroup поднимает сервис с группой: создатель-админ плюс участник
func seedGroup(t *testing.T, settings domain.GroupSettings) *membershipFixture {
	t.Helper()

	creator := &domain.User{ID: uuid.New(), Email: "creator@test.local", Name: "Creator"}
	participant := &domain.User{ID: uuid.New(), Email: "participant@test.local", Name: "Participant"}

	groupRepo := newMemGroupRepo()
	userRepo := newMemUserRepo(creator, participant)
	svc := NewMembershipService(groupRepo, userRepo, logger.New("error"))

	group, err := svc.CreateGroup(context.Background(), creator.ID, CreateGroupInput{
		Name:         "test group",
		Settings:     settings,
		MemberEmails: []string{participant.Email},
	})
	if err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	if len(group.Members) != 2 {
		t.Fatalf("expected 2 members after seeding, got %d", len(group.Members))
	}

	return &membershipFixture{
		svc:         svc,
		users:       userRepo,
		groupID:     group.ID,
		creator:     creator.ID,
		participant: participant.ID,
		outsider:    uuid.New(),
	}
}

func TestCreateGroupSkipsUnknownEmails(t *testing.T) {
	creator := &domain.User{ID: uuid.New(), Email: "creator@test.local"}
	known := &domain.User{ID: uuid.New(), Email: "known@test.local"}
	svc := NewMembershipService(newMemGroupRepo(), newMemUserRepo(creator, known), logger.New("error"))

	group, err := svc.CreateGroup(context.Background(), creator.ID, CreateGroupInput{
		Name:         "mixed invites",
		MemberEmails: []string{known.Email, "nobody@test.local", creator.Email},
	})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	if len(group.Members) != 2 {
		t.Fatalf("expected creator + known member, got %d members", len(group.Members))
	}
	creatorMember := group.Member(creator.ID)
	if creatorMember == nil || creatorMember.Role != domain.GroupRoleAdmin {
		t.Fatal("creator is not an admin member")
	}
	if group.Member(known.ID) == nil {
		t.Fatal("known member missing from group")
	}
}

func TestCreateGroupEmptyName(t *testing.T) {
	svc := NewMembershipService(newMemGroupRepo(), newMemUserRepo(), logger.New("error"))

	_, err := svc.CreateGroup(context.Background(), uuid.New(), CreateGroupInput{Name: "   "})
	if !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestCanSendToGroup(t *testing.T) {
	tests := []struct {
		name      string
		adminOnly bool
		sender    func(f *membershipFixture) uuid.UUID
		want      bool
	}{
		{"open group participant", false, func(f *membershipFixture) uuid.UUID { return f.participant }, true},
		{"open group creator", false, func(f *membershipFixture) uuid.UUID { return f.creator }, true},
		{"open group outsider", false, func(f *membershipFixture) uuid.UUID { return f.outsider }, false},
		{"admin only participant", true, func(f *membershipFixture) uuid.UUID { return f.participant }, false},
		{"admin only creator", true, func(f *membershipFixture) uuid.UUID { return f.creator }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := seedGroup(t, domain.GroupSettings{AdminOnlyMessages: tt.adminOnly})

			got, err := f.svc.CanSendToGroup(context.Background(), f.groupID, tt.sender(f))
			if err != nil {
				t.Fatalf("CanSendToGroup failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanSendToGroup = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanInvite(t *testing.T) {
	tests := []struct {
		name        string
		allowInvite bool
		requester   func(f *membershipFixture) uuid.UUID
		want        bool
	}{
		{"admin always", false, func(f *membershipFixture) uuid.UUID { return f.creator }, true},
		{"participant closed", false, func(f *membershipFixture) uuid.UUID { return f.participant }, false},
		{"participant open", true, func(f *membershipFixture) uuid.UUID { return f.participant }, true},
		{"outsider", true, func(f *membershipFixture) uuid.UUID { return f.outsider }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := seedGroup(t, domain.GroupSettings{AllowMemberInvite: tt.allowInvite})

			got, err := f.svc.CanInvite(context.Background(), f.groupID, tt.requester(f))
			if err != nil {
				t.Fatalf("CanInvite failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanInvite = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetGroupMembersOnly(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{})
	ctx := context.Background()

	if _, err := f.svc.GetGroup(ctx, f.groupID, f.participant); err != nil {
		t.Fatalf("member was denied group access: %v", err)
	}
	if _, err := f.svc.GetGroup(ctx, f.groupID, f.outsider); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
}

func TestAddMemberAuthorization(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{AllowMemberInvite: true})
	ctx := context.Background()

	// Участник приглашает обычного участника - можно
	invitee := &domain.User{ID: uuid.New(), Email: "invitee@test.local", Name: "Invitee"}
	f.users.byEmail[invitee.Email] = invitee

	member, err := f.svc.AddMember(ctx, f.groupID, f.participant, invitee.Email, "")
	if err != nil {
		t.Fatalf("participant invite failed: %v", err)
	}
	if member.Role != domain.GroupRoleParticipant {
		t.Fatalf("expected participant role by default, got %q", member.Role)
	}

	// Повторное добавление того же пользователя
	if _, err := f.svc.AddMember(ctx, f.groupID, f.creator, invitee.Email, ""); !errors.Is(err, apperrors.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}

	// Выдать роль админа может только админ
	second := &domain.User{ID: uuid.New(), Email: "second@test.local", Name: "Second"}
	f.users.byEmail[second.Email] = second
	if _, err := f.svc.AddMember(ctx, f.groupID, f.participant, second.Email, domain.GroupRoleAdmin); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for participant granting admin, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.groupID, f.creator, second.Email, domain.GroupRoleAdmin); err != nil {
		t.Fatalf("admin grant by creator failed: %v", err)
	}
}

func TestRemoveMemberAuthorization(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{})
	ctx := context.Background()

	group, err := f.svc.GetGroup(ctx, f.groupID, f.creator)
	if err != nil {
		t.Fatalf("get group failed: %v", err)
	}
	participantRecord := group.Member(f.participant)
	creatorRecord := group.Member(f.creator)

	// Не-админ не удаляет участников
	if err := f.svc.RemoveMember(ctx, f.groupID, f.participant, creatorRecord.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Создателя удалить нельзя даже админу
	if err := f.svc.RemoveMember(ctx, f.groupID, f.creator, creatorRecord.ID); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden removing creator, got %v", err)
	}

	if err := f.svc.RemoveMember(ctx, f.groupID, f.creator, participantRecord.ID); err != nil {
		t.Fatalf("admin remove failed: %v", err)
	}
	isMember, err := f.svc.IsMember(ctx, f.groupID, f.participant)
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if isMember {
		t.Fatal("removed user is still a member")
	}
}

func TestChangeRoleAuthorization(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{})
	ctx := context.Background()

	group, err := f.svc.GetGroup(ctx, f.groupID, f.creator)
	if err != nil {
		t.Fatalf("get group failed: %v", err)
	}
	participantRecord := group.Member(f.participant)
	creatorRecord := group.Member(f.creator)

	if err := f.svc.ChangeRole(ctx, f.groupID, f.participant, participantRecord.ID, domain.GroupRoleAdmin); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin requester, got %v", err)
	}
	if err := f.svc.ChangeRole(ctx, f.groupID, f.creator, creatorRecord.ID, domain.GroupRoleParticipant); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden demoting creator, got %v", err)
	}
	if err := f.svc.ChangeRole(ctx, f.groupID, f.creator, participantRecord.ID, "owner"); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for unknown role, got %v", err)
	}

	if err := f.svc.ChangeRole(ctx, f.groupID, f.creator, participantRecord.ID, domain.GroupRoleAdmin); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	role, err := f.svc.Role(ctx, f.groupID, f.participant)
	if err != nil {
		t.Fatalf("Role failed: %v", err)
	}
	if role != domain.GroupRoleAdmin {
		t.Fatalf("expected admin after promotion, got %q", role)
	}
}

func TestDeleteGroupCreatorOnly(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{})
	ctx := context.Background()

	group, _ := f.svc.GetGroup(ctx, f.groupID, f.creator)
	if err := f.svc.ChangeRole(ctx, f.groupID, f.creator, group.Member(f.participant).ID, domain.GroupRoleAdmin); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	// Даже админ, не являющийся создателем, группу не удаляет
	if err := f.svc.DeleteGroup(ctx, f.groupID, f.participant); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := f.svc.DeleteGroup(ctx, f.groupID, f.creator); err != nil {
		t.Fatalf("creator delete failed: %v", err)
	}
	if _, err := f.svc.GetGroup(ctx, f.groupID, f.creator); !errors.Is(err, apperrors.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound after delete, got %v", err)
	}
}

func TestLeaveGroupPromotesEarliestMember(t *testing.T) {
	f := seedGroup(t, domain.GroupSettings{})
	ctx := context.Background()

	// Третий участник присоединяется позже второго
	third := &domain.User{ID: uuid.New(), Email: "third@test.local", Name: "Third"}
	f.users.byEmail[third.Email] = third
	if _, err := f.svc.AddMember(ctx, f.groupID, f.creator, third.Email, ""); err != nil {
		t.Fatalf("add third member failed: %v", err)
	}

	// Единственный админ уходит
	if err := f.svc.LeaveGroup(ctx, f.groupID, f.creator); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	role, err := f.svc.Role(ctx, f.groupID, f.participant)
	if err != nil {
		t.Fatalf("Role failed: %v", err)
	}
	if role != domain.GroupRoleAdmin {
		t.Fatalf("expected earliest member promoted to admin, got %q", role)
	}
	role, err = f.svc.Role(ctx, f.groupID, third.ID)
	if err != nil {
		t.Fatalf("Role failed: %v", err)
	}
	if role != domain.GroupRoleParticipant {
		t.Fatalf("expected later member to stay participant, got %q", role)
	}
}

func TestLeaveGroupLastMemberDeletesGroup(t *testing.T) {
	creator := &domain.User{ID: uuid.New(), Email: "solo@test.local"}
	svc := NewMembershipService(newMemGroupRepo(), newMemUserRepo(creator), logger.New("error"))
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, creator.ID, CreateGroupInput{Name: "solo"})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}

	if err := svc.LeaveGroup(ctx, group.ID, creator.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if _, err := svc.GetGroup(ctx, group.ID, creator.ID); !errors.Is(err, apperrors.ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound after last member left, got %v", err)
	}
}
