package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat_relay/internal/domain"
	"chat_relay/internal/service"
	apperrors "chat_relay/pkg/errors"
	"chat_relay/pkg/logger"
)

type GroupHandler struct {
	membershipService service.MembershipService
	log               logger.Logger
}

func NewGroupHandler(membershipService service.MembershipService, log logger.Logger) *GroupHandler {
	return &GroupHandler{
		membershipService: membershipService,
		log:               log,
	}
}

type CreateGroupRequest struct {
	Name              string   `json:"name" binding:"required"`
	Description       *string  `json:"description"`
	ProfilePicture    *string  `json:"profilePicture"`
	IsPrivate         bool     `json:"isPrivate"`
	AllowMemberInvite bool     `json:"allowMemberInvite"`
	AdminOnlyMessages bool     `json:"adminOnlyMessages"`
	MemberEmails      []string `json:"memberEmails"`
}

func (h *GroupHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.membershipService.CreateGroup(c.Request.Context(), userID, service.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		ProfilePic:  req.ProfilePicture,
		Settings: domain.GroupSettings{
			IsPrivate:         req.IsPrivate,
			AllowMemberInvite: req.AllowMemberInvite,
			AdminOnlyMessages: req.AdminOnlyMessages,
		},
		MemberEmails: req.MemberEmails,
	})
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"group": group})
}

func (h *GroupHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.membershipService.ListGroups(c.Request.Context(), userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *GroupHandler) GetByID(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	group, err := h.membershipService.GetGroup(c.Request.Context(), groupID, userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group": group})
}

type UpdateGroupRequest struct {
	Name           *string               `json:"name"`
	Description    *string               `json:"description"`
	ProfilePicture *string               `json:"profilePicture"`
	Settings       *domain.GroupSettings `json:"settings"`
}

func (h *GroupHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.membershipService.UpdateGroup(c.Request.Context(), groupID, userID, service.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		ProfilePic:  req.ProfilePicture,
		Settings:    req.Settings,
	})
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	if err := h.membershipService.DeleteGroup(c.Request.Context(), groupID, userID); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

func (h *GroupHandler) GetMembers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	group, err := h.membershipService.GetGroup(c.Request.Context(), groupID, userID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": group.Members})
}

type AddMemberRequest struct {
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
	Role   string `json:"role"`
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	emailOrMobile := req.Email
	if emailOrMobile == "" {
		emailOrMobile = req.Mobile
	}
	if emailOrMobile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email or mobile is required"})
		return
	}

	member, err := h.membershipService.AddMember(c.Request.Context(), groupID, userID, emailOrMobile, req.Role)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"member": member})
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}
	memberID, err := uuid.Parse(c.Param("memberId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return
	}

	if err := h.membershipService.RemoveMember(c.Request.Context(), groupID, userID, memberID); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *GroupHandler) UpdateMemberRole(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}
	memberID, err := uuid.Parse(c.Param("memberId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.membershipService.ChangeRole(c.Request.Context(), groupID, userID, memberID, req.Role); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Role updated"})
}

func (h *GroupHandler) Leave(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group ID"})
		return
	}

	if err := h.membershipService.LeaveGroup(c.Request.Context(), groupID, userID); err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Left group"})
}
