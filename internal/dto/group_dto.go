package dto

import (
	"time"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// CreateGroupRequest creates a group with the requester as first admin.
type CreateGroupRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

// UpdateGroupRequest edits group title and/or description (admins only).
type UpdateGroupRequest struct {
	GroupCopyID string  `json:"group_copy_id" validate:"required"`
	Title       *string `json:"title" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// SendGroupMessageRequest posts a message through the sender's mailbox copy.
type SendGroupMessageRequest struct {
	GroupCopyID string `json:"group_copy_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

// UpdateGroupMessageRequest rewrites a group message's shared content.
type UpdateGroupMessageRequest struct {
	GroupMessageID string `json:"group_message_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// AddGroupMemberRequest adds a user to the group (admins only).
type AddGroupMemberRequest struct {
	GroupCopyID string `json:"group_copy_id" validate:"required"`
	MemberID    string `json:"member_id" validate:"required"`
}

// ChangeAdminRequest toggles a membership's admin flag (admins only).
type ChangeAdminRequest struct {
	GroupMemberID string `json:"group_member_id" validate:"required"`
	IsAdmin       bool   `json:"is_admin"`
}

// ArchiveGroupCopyRequest flips the member-private archived flag.
type ArchiveGroupCopyRequest struct {
	GroupCopyID string `json:"group_copy_id" validate:"required"`
	Archived    bool   `json:"archived"`
}

// GroupHistoryQuery pages through one member mailbox's message copies.
type GroupHistoryQuery struct {
	GroupCopyID string `json:"group_copy_id" validate:"required"`
	Limit       int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset      int    `json:"offset" validate:"omitempty,min=0"`
}

// GroupResponse is the shared group record.
type GroupResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	MembersCount int       `json:"members_count"`
	CreatedByID  string    `json:"created_by_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupMemberResponse is one membership row.
type GroupMemberResponse struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"group_id"`
	MemberID string    `json:"member_id"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

// GroupCopyResponse is a member's private mailbox for a group.
type GroupCopyResponse struct {
	ID            string  `json:"id"`
	MembershipID  string  `json:"membership_id"`
	IsArchived    bool    `json:"is_archived"`
	LastMessageID *string `json:"last_message_id,omitempty"`
}

// GroupCreatedResponse bundles the new group with the creator's membership.
type GroupCreatedResponse struct {
	Group     GroupResponse       `json:"group"`
	Member    GroupMemberResponse `json:"member"`
	GroupCopy GroupCopyResponse   `json:"group_copy"`
}

// GroupMessageResponse is one member mailbox copy with its message.
type GroupMessageResponse struct {
	ID          string          `json:"id"`
	GroupCopyID string          `json:"group_copy_id"`
	Message     MessageResponse `json:"message"`
}

// NewGroupResponse maps a group model to its response shape.
func NewGroupResponse(group models.UserGroup) GroupResponse {
	return GroupResponse{
		ID:           gid.Encode(gid.KindGroup, group.ID),
		Title:        group.Title,
		Description:  group.Description,
		MembersCount: group.MembersCount,
		CreatedByID:  gid.Encode(gid.KindUser, group.CreatedByID),
		CreatedAt:    group.CreatedAt,
		UpdatedAt:    group.UpdatedAt,
	}
}

// NewGroupMemberResponse maps a membership model to its response shape.
func NewGroupMemberResponse(membership models.GroupMember) GroupMemberResponse {
	return GroupMemberResponse{
		ID:       gid.Encode(gid.KindGroupMember, membership.ID),
		GroupID:  gid.Encode(gid.KindGroup, membership.GroupID),
		MemberID: gid.Encode(gid.KindUser, membership.MemberID),
		IsAdmin:  membership.IsAdmin,
		JoinedAt: membership.JoinedAt,
	}
}

// NewGroupCopyResponse maps a member mailbox to its response shape.
func NewGroupCopyResponse(copy models.GroupMemberCopy) GroupCopyResponse {
	response := GroupCopyResponse{
		ID:           gid.Encode(gid.KindGroupCopy, copy.ID),
		MembershipID: gid.Encode(gid.KindGroupMember, copy.MembershipID),
		IsArchived:   copy.IsArchived,
	}
	if copy.LastMessageID != nil {
		encoded := gid.Encode(gid.KindGroupMessage, *copy.LastMessageID)
		response.LastMessageID = &encoded
	}
	return response
}

// NewGroupMessageResponse maps a mailbox message copy to its response shape.
func NewGroupMessageResponse(copy models.GroupMessage) GroupMessageResponse {
	return GroupMessageResponse{
		ID:          gid.Encode(gid.KindGroupMessage, copy.ID),
		GroupCopyID: gid.Encode(gid.KindGroupCopy, copy.CopyID),
		Message:     NewMessageResponse(copy.Message),
	}
}

// NewGroupMessageResponseSlice maps a page of mailbox message copies.
func NewGroupMessageResponseSlice(copies []models.GroupMessage) []GroupMessageResponse {
	responses := make([]GroupMessageResponse, 0, len(copies))
	for _, copy := range copies {
		responses = append(responses, NewGroupMessageResponse(copy))
	}
	return responses
}

// NewGroupMemberResponseSlice maps a group's membership list.
func NewGroupMemberResponseSlice(memberships []models.GroupMember) []GroupMemberResponse {
	responses := make([]GroupMemberResponse, 0, len(memberships))
	for _, membership := range memberships {
		responses = append(responses, NewGroupMemberResponse(membership))
	}
	return responses
}
