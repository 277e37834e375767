package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/internal/observability"
	"github.com/buddychat/buddychat-api/internal/realtime"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/pkg/apperr"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// GroupService is the fanout engine for group chats: one logical send
// becomes one mailbox copy per live member, each delivered atomically with
// its last-message update and notification. Cross-member fanout has no
// atomicity guarantee; a failed mailbox is logged and skipped.
type GroupService interface {
	Create(ctx context.Context, requesterID uint, req dto.CreateGroupRequest) (dto.GroupCreatedResponse, error)
	Update(ctx context.Context, requesterID uint, req dto.UpdateGroupRequest) (dto.GroupResponse, error)
	Members(ctx context.Context, requesterID uint, groupCopyID string) ([]dto.GroupMemberResponse, error)
	History(ctx context.Context, requesterID uint, query dto.GroupHistoryQuery) ([]dto.GroupMessageResponse, error)
	Send(ctx context.Context, requesterID uint, req dto.SendGroupMessageRequest) (dto.GroupMessageResponse, error)
	UpdateMessage(ctx context.Context, requesterID uint, req dto.UpdateGroupMessageRequest) (dto.GroupMessageResponse, error)
	DeleteMessageForSelf(ctx context.Context, requesterID uint, groupMessageID string) error
	Unsend(ctx context.Context, requesterID uint, groupMessageID string) error
	AddMember(ctx context.Context, requesterID uint, req dto.AddGroupMemberRequest) (dto.GroupMemberResponse, error)
	RemoveMember(ctx context.Context, requesterID uint, groupMemberID string) error
	Leave(ctx context.Context, requesterID uint, groupCopyID string) error
	ChangeAdmin(ctx context.Context, requesterID uint, req dto.ChangeAdminRequest) (dto.GroupMemberResponse, error)
	DeletePermanently(ctx context.Context, requesterID uint, groupCopyID string) error
	SetArchived(ctx context.Context, requesterID uint, req dto.ArchiveGroupCopyRequest) (dto.GroupCopyResponse, error)
}

type groupService struct {
	groups    repository.GroupRepository
	messages  MessageService
	publisher realtime.Publisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewGroupService constructs the group fanout engine.
func NewGroupService(groups repository.GroupRepository, messages MessageService, publisher realtime.Publisher, validate *validator.Validate, logger zerolog.Logger) GroupService {
	return &groupService{
		groups:    groups,
		messages:  messages,
		publisher: publisher,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "group_service").Logger(),
		tracer:    otel.Tracer("github.com/buddychat/buddychat-api/internal/service/group"),
	}
}

func (s *groupService) Create(ctx context.Context, requesterID uint, req dto.CreateGroupRequest) (dto.GroupCreatedResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupCreatedResponse{}, apperr.Invalid("title is required")
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(req.Title))
	if title == "" {
		return dto.GroupCreatedResponse{}, apperr.Invalid("group title is empty")
	}
	description := strings.TrimSpace(s.sanitizer.Sanitize(req.Description))

	group := models.UserGroup{Title: title, Description: description}
	membership, copy, err := s.groups.CreateGroup(ctx, &group, requesterID)
	if err != nil {
		return dto.GroupCreatedResponse{}, err
	}

	return dto.GroupCreatedResponse{
		Group:     dto.NewGroupResponse(group),
		Member:    dto.NewGroupMemberResponse(membership),
		GroupCopy: dto.NewGroupCopyResponse(copy),
	}, nil
}

func (s *groupService) Update(ctx context.Context, requesterID uint, req dto.UpdateGroupRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, apperr.Invalid("group_copy_id is required")
	}

	_, membership, err := s.resolveMailbox(ctx, req.GroupCopyID)
	if err != nil {
		return dto.GroupResponse{}, err
	}
	if err := s.requireAdmin(ctx, membership.GroupID, requesterID); err != nil {
		return dto.GroupResponse{}, err
	}

	var title, description *string
	if req.Title != nil {
		cleaned := strings.TrimSpace(s.sanitizer.Sanitize(*req.Title))
		if cleaned == "" {
			return dto.GroupResponse{}, apperr.Invalid("group title is empty")
		}
		title = &cleaned
	}
	if req.Description != nil {
		cleaned := strings.TrimSpace(s.sanitizer.Sanitize(*req.Description))
		description = &cleaned
	}

	group, err := s.groups.UpdateGroupInfo(ctx, membership.GroupID, title, description)
	if err != nil {
		return dto.GroupResponse{}, mapNotFound(err, "group not found")
	}

	groupRef := &realtime.GroupRef{ID: gid.Encode(gid.KindGroup, group.ID), Title: group.Title}
	s.fanoutToMembers(ctx, group.ID, 0, realtime.Payload{
		Operation: realtime.OpGroupUpdated,
		Group:     groupRef,
	})

	return dto.NewGroupResponse(group), nil
}

func (s *groupService) Members(ctx context.Context, requesterID uint, groupCopyID string) ([]dto.GroupMemberResponse, error) {
	_, membership, err := s.resolveMailbox(ctx, groupCopyID)
	if err != nil {
		return nil, err
	}
	if membership.MemberID != requesterID {
		return nil, apperr.PermissionDenied("not a group member")
	}

	memberships, err := s.groups.ListMemberships(ctx, membership.GroupID)
	if err != nil {
		return nil, err
	}

	return dto.NewGroupMemberResponseSlice(memberships), nil
}

func (s *groupService) History(ctx context.Context, requesterID uint, query dto.GroupHistoryQuery) ([]dto.GroupMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, apperr.Invalid("invalid history query")
	}

	mailbox, membership, err := s.resolveMailbox(ctx, query.GroupCopyID)
	if err != nil {
		return nil, err
	}
	if membership.MemberID != requesterID {
		return nil, apperr.PermissionDenied("not the mailbox owner")
	}

	copies, err := s.groups.ListMessageCopies(ctx, mailbox.ID, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	return dto.NewGroupMessageResponseSlice(copies), nil
}

func (s *groupService) Send(ctx context.Context, requesterID uint, req dto.SendGroupMessageRequest) (dto.GroupMessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMessageResponse{}, apperr.Invalid("group_copy_id and content are required")
	}

	mailbox, membership, err := s.resolveMailbox(ctx, req.GroupCopyID)
	if err != nil {
		return dto.GroupMessageResponse{}, err
	}
	if membership.MemberID != requesterID {
		return dto.GroupMessageResponse{}, apperr.PermissionDenied("not a group member")
	}

	message, err := s.messages.Create(ctx, requesterID, req.Content)
	if err != nil {
		return dto.GroupMessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "group.fanout", trace.WithAttributes(
		attribute.Int64("group.id", int64(membership.GroupID)),
		attribute.Int64("group.sender_id", int64(requesterID)),
	))
	defer span.End()

	// The sender's own mailbox first, so the returned copy exists even if
	// the remaining fanout degrades.
	senderCopy, _, err := s.groups.DeliverToMailbox(spanCtx, mailbox.ID, message.ID, 0)
	if err != nil {
		span.RecordError(err)
		return dto.GroupMessageResponse{}, err
	}
	senderCopy.Message = message
	observability.MessagesFanned().WithLabelValues("group").Inc()

	s.publisher.Publish(spanCtx, requesterID, realtime.Payload{
		Operation:    realtime.OpMessageCreated,
		GroupCopy:    &realtime.GroupCopyRef{ID: gid.Encode(gid.KindGroupCopy, mailbox.ID)},
		GroupMessage: realtime.NewGroupMessageRef(senderCopy.ID, mailbox.ID, &message),
	})

	mailboxes, err := s.groups.ListMailboxes(spanCtx, membership.GroupID)
	if err != nil {
		// Sender's copy is committed; report success and flag the rest.
		span.RecordError(err)
		observability.FanoutFailures().Inc()
		s.logger.Error().Err(err).Uint("group_id", membership.GroupID).Msg("mailbox listing failed, fanout incomplete")
		return dto.NewGroupMessageResponse(senderCopy), nil
	}

	for _, target := range mailboxes {
		if target.Membership.ID == membership.ID {
			continue
		}

		memberCopy, notification, err := s.groups.DeliverToMailbox(spanCtx, target.Copy.ID, message.ID, target.Membership.MemberID)
		if err != nil {
			// One member's failure must not roll back or block the others.
			span.RecordError(err)
			observability.FanoutFailures().Inc()
			s.logger.Error().Err(err).
				Uint("group_id", membership.GroupID).
				Uint("member_id", target.Membership.MemberID).
				Uint("mailbox_id", target.Copy.ID).
				Msg("group mailbox delivery failed, fanout incomplete")
			continue
		}
		observability.MessagesFanned().WithLabelValues("group").Inc()

		s.publisher.Publish(spanCtx, target.Membership.MemberID, realtime.Payload{
			Operation:    realtime.OpMessageCreated,
			GroupCopy:    &realtime.GroupCopyRef{ID: gid.Encode(gid.KindGroupCopy, target.Copy.ID)},
			GroupMessage: realtime.NewGroupMessageRef(memberCopy.ID, target.Copy.ID, &message),
		})
		if notification != nil {
			s.publisher.Publish(spanCtx, target.Membership.MemberID, realtime.Payload{
				Operation:    realtime.OpNotificationCreated,
				Notification: realtime.NewNotificationRef(*notification, &message),
			})
		}
	}

	return dto.NewGroupMessageResponse(senderCopy), nil
}

func (s *groupService) UpdateMessage(ctx context.Context, requesterID uint, req dto.UpdateGroupMessageRequest) (dto.GroupMessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMessageResponse{}, apperr.Invalid("group_message_id and content are required")
	}

	messageCopy, err := s.resolveMessageCopy(ctx, req.GroupMessageID)
	if err != nil {
		return dto.GroupMessageResponse{}, err
	}

	updated, err := s.messages.UpdateContent(ctx, messageCopy.Message, requesterID, req.Content)
	if err != nil {
		return dto.GroupMessageResponse{}, err
	}
	messageCopy.Message = updated

	holders, err := s.groups.ListMessageHolders(ctx, updated.ID)
	if err != nil {
		return dto.GroupMessageResponse{}, err
	}
	for _, holder := range holders {
		s.publisher.Publish(ctx, holder.MemberID, realtime.Payload{
			Operation:    realtime.OpMessageUpdated,
			GroupCopy:    &realtime.GroupCopyRef{ID: gid.Encode(gid.KindGroupCopy, holder.Copy.ID)},
			GroupMessage: realtime.NewGroupMessageRef(holder.MessageCopyID, holder.Copy.ID, &updated),
		})
	}

	return dto.NewGroupMessageResponse(messageCopy), nil
}

func (s *groupService) DeleteMessageForSelf(ctx context.Context, requesterID uint, groupMessageID string) error {
	messageCopy, err := s.resolveMessageCopy(ctx, groupMessageID)
	if err != nil {
		return err
	}

	mailbox, err := s.groups.FindCopy(ctx, messageCopy.CopyID)
	if err != nil {
		return mapNotFound(err, "group mailbox not found")
	}
	membership, err := s.groups.FindMembership(ctx, mailbox.MembershipID)
	if err != nil {
		return mapNotFound(err, "group membership not found")
	}
	if membership.MemberID != requesterID {
		return apperr.PermissionDenied("not the mailbox owner")
	}

	updated, _, err := s.groups.DeleteMessageCopy(ctx, messageCopy.ID)
	if err != nil {
		return err
	}

	// Only the requester's own view changed; the event is for their other
	// devices.
	s.publisher.Publish(ctx, requesterID, realtime.Payload{
		Operation:    realtime.OpMessageDeleted,
		GroupCopy:    &realtime.GroupCopyRef{ID: gid.Encode(gid.KindGroupCopy, updated.ID)},
		GroupMessage: realtime.NewGroupMessageRef(messageCopy.ID, updated.ID, nil),
	})

	return nil
}

func (s *groupService) Unsend(ctx context.Context, requesterID uint, groupMessageID string) error {
	messageCopy, err := s.resolveMessageCopy(ctx, groupMessageID)
	if err != nil {
		return err
	}

	if messageCopy.Message.SenderID != requesterID {
		return apperr.PermissionDenied("only the sender can unsend a message")
	}

	entries, err := s.groups.Unsend(ctx, messageCopy.MessageID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		s.publisher.Publish(ctx, entry.MemberID, realtime.Payload{
			Operation:    realtime.OpMessageUnsent,
			GroupCopy:    &realtime.GroupCopyRef{ID: gid.Encode(gid.KindGroupCopy, entry.Copy.ID)},
			GroupMessage: realtime.NewGroupMessageRef(entry.MessageCopyID, entry.Copy.ID, nil),
		})
	}

	return nil
}

func (s *groupService) AddMember(ctx context.Context, requesterID uint, req dto.AddGroupMemberRequest) (dto.GroupMemberResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMemberResponse{}, apperr.Invalid("group_copy_id and member_id are required")
	}

	_, membership, err := s.resolveMailbox(ctx, req.GroupCopyID)
	if err != nil {
		return dto.GroupMemberResponse{}, err
	}
	if err := s.requireAdmin(ctx, membership.GroupID, requesterID); err != nil {
		return dto.GroupMemberResponse{}, err
	}

	memberID, err := gid.Decode(gid.KindUser, req.MemberID)
	if err != nil {
		return dto.GroupMemberResponse{}, err
	}

	added, _, err := s.groups.AddMember(ctx, membership.GroupID, memberID, false)
	if err != nil {
		return dto.GroupMemberResponse{}, err
	}

	s.fanoutToMembers(ctx, membership.GroupID, 0, realtime.Payload{
		Operation: realtime.OpMemberAdded,
		Member:    realtime.NewMemberRef(added),
	})

	return dto.NewGroupMemberResponse(added), nil
}

func (s *groupService) RemoveMember(ctx context.Context, requesterID uint, groupMemberID string) error {
	membershipID, err := gid.Decode(gid.KindGroupMember, groupMemberID)
	if err != nil {
		return err
	}

	target, err := s.groups.FindMembership(ctx, membershipID)
	if err != nil {
		return mapNotFound(err, "group membership not found")
	}
	if err := s.requireAdmin(ctx, target.GroupID, requesterID); err != nil {
		return err
	}

	if err := s.removeMembership(ctx, target); err != nil {
		return err
	}

	s.fanoutToMembers(ctx, target.GroupID, 0, realtime.Payload{
		Operation: realtime.OpMemberRemoved,
		Member:    realtime.NewMemberRef(target),
	})

	return nil
}

func (s *groupService) Leave(ctx context.Context, requesterID uint, groupCopyID string) error {
	_, membership, err := s.resolveMailbox(ctx, groupCopyID)
	if err != nil {
		return err
	}
	if membership.MemberID != requesterID {
		return apperr.PermissionDenied("not a group member")
	}

	if err := s.removeMembership(ctx, membership); err != nil {
		return err
	}

	s.fanoutToMembers(ctx, membership.GroupID, 0, realtime.Payload{
		Operation: realtime.OpMemberLeft,
		Member:    realtime.NewMemberRef(membership),
	})

	return nil
}

func (s *groupService) ChangeAdmin(ctx context.Context, requesterID uint, req dto.ChangeAdminRequest) (dto.GroupMemberResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMemberResponse{}, apperr.Invalid("group_member_id is required")
	}

	membershipID, err := gid.Decode(gid.KindGroupMember, req.GroupMemberID)
	if err != nil {
		return dto.GroupMemberResponse{}, err
	}

	target, err := s.groups.FindMembership(ctx, membershipID)
	if err != nil {
		return dto.GroupMemberResponse{}, mapNotFound(err, "group membership not found")
	}
	if err := s.requireAdmin(ctx, target.GroupID, requesterID); err != nil {
		return dto.GroupMemberResponse{}, err
	}

	// Demoting the last admin would leave the group unmanageable.
	if target.IsAdmin && !req.IsAdmin {
		admins, err := s.groups.AdminCount(ctx, target.GroupID)
		if err != nil {
			return dto.GroupMemberResponse{}, err
		}
		if admins <= 1 {
			return dto.GroupMemberResponse{}, apperr.Invalid("a group needs at least one admin")
		}
	}

	updated, err := s.groups.SetAdmin(ctx, target.ID, req.IsAdmin)
	if err != nil {
		return dto.GroupMemberResponse{}, err
	}

	return dto.NewGroupMemberResponse(updated), nil
}

func (s *groupService) DeletePermanently(ctx context.Context, requesterID uint, groupCopyID string) error {
	_, membership, err := s.resolveMailbox(ctx, groupCopyID)
	if err != nil {
		return err
	}

	group, err := s.groups.FindGroup(ctx, membership.GroupID)
	if err != nil {
		return mapNotFound(err, "group not found")
	}
	if group.CreatedByID != requesterID {
		return apperr.PermissionDenied("not the group creator")
	}

	// Member ids are captured inside the cascade transaction, before the
	// membership rows disappear.
	memberIDs, err := s.groups.DeleteGroup(ctx, group.ID)
	if err != nil {
		return err
	}

	groupRef := &realtime.GroupRef{ID: gid.Encode(gid.KindGroup, group.ID), Title: group.Title}
	for _, memberID := range memberIDs {
		s.publisher.Publish(ctx, memberID, realtime.Payload{
			Operation: realtime.OpGroupRemoved,
			Group:     groupRef,
		})
	}

	return nil
}

func (s *groupService) SetArchived(ctx context.Context, requesterID uint, req dto.ArchiveGroupCopyRequest) (dto.GroupCopyResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupCopyResponse{}, apperr.Invalid("group_copy_id is required")
	}

	mailbox, membership, err := s.resolveMailbox(ctx, req.GroupCopyID)
	if err != nil {
		return dto.GroupCopyResponse{}, err
	}
	if membership.MemberID != requesterID {
		return dto.GroupCopyResponse{}, apperr.PermissionDenied("not the mailbox owner")
	}

	updated, err := s.groups.SetCopyArchived(ctx, mailbox.ID, req.Archived)
	if err != nil {
		return dto.GroupCopyResponse{}, err
	}

	return dto.NewGroupCopyResponse(updated), nil
}

// removeMembership deletes a membership with its mailbox, then restores the
// at-least-one-admin rule by promoting the earliest-joined remaining member
// when the last admin left.
func (s *groupService) removeMembership(ctx context.Context, membership models.GroupMember) error {
	if err := s.groups.RemoveMember(ctx, membership.ID); err != nil {
		return err
	}

	if !membership.IsAdmin {
		return nil
	}

	admins, err := s.groups.AdminCount(ctx, membership.GroupID)
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}

	promoted, err := s.groups.PromoteEarliestMember(ctx, membership.GroupID, membership.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	s.logger.Info().
		Uint("group_id", membership.GroupID).
		Uint("member_id", promoted.MemberID).
		Msg("promoted member to admin after last admin left")

	return nil
}

func (s *groupService) requireAdmin(ctx context.Context, groupID, requesterID uint) error {
	membership, err := s.groups.FindMembershipByUser(ctx, groupID, requesterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.PermissionDenied("not a group member")
		}
		return err
	}
	if !membership.IsAdmin {
		return apperr.PermissionDenied("not a group admin")
	}
	return nil
}

// fanoutToMembers publishes one payload to every current member's channel,
// except excludeMemberID when non-zero.
func (s *groupService) fanoutToMembers(ctx context.Context, groupID, excludeMemberID uint, payload realtime.Payload) {
	memberships, err := s.groups.ListMemberships(ctx, groupID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("group_id", groupID).Msg("member fanout listing failed")
		return
	}

	for _, membership := range memberships {
		if excludeMemberID != 0 && membership.MemberID == excludeMemberID {
			continue
		}
		s.publisher.Publish(ctx, membership.MemberID, payload)
	}
}

func (s *groupService) resolveMailbox(ctx context.Context, groupCopyID string) (models.GroupMemberCopy, models.GroupMember, error) {
	id, err := gid.Decode(gid.KindGroupCopy, groupCopyID)
	if err != nil {
		return models.GroupMemberCopy{}, models.GroupMember{}, err
	}

	mailbox, err := s.groups.FindCopy(ctx, id)
	if err != nil {
		return models.GroupMemberCopy{}, models.GroupMember{}, mapNotFound(err, "group mailbox not found")
	}

	membership, err := s.groups.FindMembership(ctx, mailbox.MembershipID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GroupMemberCopy{}, models.GroupMember{}, apperr.PermissionDenied("not a group member")
		}
		return models.GroupMemberCopy{}, models.GroupMember{}, err
	}

	return mailbox, membership, nil
}

func (s *groupService) resolveMessageCopy(ctx context.Context, groupMessageID string) (models.GroupMessage, error) {
	id, err := gid.Decode(gid.KindGroupMessage, groupMessageID)
	if err != nil {
		return models.GroupMessage{}, err
	}

	messageCopy, err := s.groups.FindMessageCopy(ctx, id)
	if err != nil {
		return models.GroupMessage{}, mapNotFound(err, "group message not found")
	}
	return messageCopy, nil
}
