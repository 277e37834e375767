package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/internal/realtime"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/pkg/apperr"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

type groupRepoStub struct {
	groups        map[uint]models.UserGroup
	memberships   map[uint]models.GroupMember
	copies        map[uint]models.GroupMemberCopy
	messageCopies map[uint]models.GroupMessage
	messages      *messageRepoStub

	nextGroupID      uint
	nextMembershipID uint
	nextCopyID       uint
	nextMsgCopyID    uint
	nextNoteID       uint

	failDeliverCopy uint
}

func newGroupRepoStub(messages *messageRepoStub) *groupRepoStub {
	return &groupRepoStub{
		groups:        make(map[uint]models.UserGroup),
		memberships:   make(map[uint]models.GroupMember),
		copies:        make(map[uint]models.GroupMemberCopy),
		messageCopies: make(map[uint]models.GroupMessage),
		messages:      messages,
	}
}

func (s *groupRepoStub) addMembership(groupID, memberID uint, isAdmin bool) (models.GroupMember, models.GroupMemberCopy) {
	s.nextMembershipID++
	membership := models.GroupMember{
		ID:       s.nextMembershipID,
		GroupID:  groupID,
		MemberID: memberID,
		IsAdmin:  isAdmin,
		JoinedAt: time.Now().UTC().Add(time.Duration(s.nextMembershipID) * time.Second),
	}
	s.memberships[membership.ID] = membership

	s.nextCopyID++
	copy := models.GroupMemberCopy{ID: s.nextCopyID, MembershipID: membership.ID}
	s.copies[copy.ID] = copy

	group := s.groups[groupID]
	group.MembersCount++
	s.groups[groupID] = group

	return membership, copy
}

func (s *groupRepoStub) CreateGroup(ctx context.Context, group *models.UserGroup, creatorID uint) (models.GroupMember, models.GroupMemberCopy, error) {
	s.nextGroupID++
	group.ID = s.nextGroupID
	group.CreatedByID = creatorID
	s.groups[group.ID] = *group

	membership, copy := s.addMembership(group.ID, creatorID, true)
	created := s.groups[group.ID]
	*group = created
	return membership, copy, nil
}

func (s *groupRepoStub) FindGroup(ctx context.Context, id uint) (models.UserGroup, error) {
	group, ok := s.groups[id]
	if !ok {
		return models.UserGroup{}, gorm.ErrRecordNotFound
	}
	return group, nil
}

func (s *groupRepoStub) UpdateGroupInfo(ctx context.Context, groupID uint, title, description *string) (models.UserGroup, error) {
	group, ok := s.groups[groupID]
	if !ok {
		return models.UserGroup{}, gorm.ErrRecordNotFound
	}
	if title != nil {
		group.Title = *title
	}
	if description != nil {
		group.Description = *description
	}
	s.groups[groupID] = group
	return group, nil
}

func (s *groupRepoStub) DeleteGroup(ctx context.Context, groupID uint) ([]uint, error) {
	var memberIDs []uint
	for id, membership := range s.memberships {
		if membership.GroupID != groupID {
			continue
		}
		memberIDs = append(memberIDs, membership.MemberID)
		for copyID, copy := range s.copies {
			if copy.MembershipID == id {
				for msgCopyID, msgCopy := range s.messageCopies {
					if msgCopy.CopyID == copyID {
						delete(s.messageCopies, msgCopyID)
					}
				}
				delete(s.copies, copyID)
			}
		}
		delete(s.memberships, id)
	}
	delete(s.groups, groupID)
	sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i] < memberIDs[j] })
	return memberIDs, nil
}

func (s *groupRepoStub) AddMember(ctx context.Context, groupID, memberID uint, isAdmin bool) (models.GroupMember, models.GroupMemberCopy, error) {
	for _, membership := range s.memberships {
		if membership.GroupID == groupID && membership.MemberID == memberID {
			return models.GroupMember{}, models.GroupMemberCopy{}, apperr.AlreadyExists("user is already a group member")
		}
	}
	membership, copy := s.addMembership(groupID, memberID, isAdmin)
	return membership, copy, nil
}

func (s *groupRepoStub) RemoveMember(ctx context.Context, membershipID uint) error {
	membership, ok := s.memberships[membershipID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for copyID, copy := range s.copies {
		if copy.MembershipID == membershipID {
			for msgCopyID, msgCopy := range s.messageCopies {
				if msgCopy.CopyID == copyID {
					delete(s.messageCopies, msgCopyID)
				}
			}
			delete(s.copies, copyID)
		}
	}
	delete(s.memberships, membershipID)

	group := s.groups[membership.GroupID]
	group.MembersCount--
	s.groups[membership.GroupID] = group
	return nil
}

func (s *groupRepoStub) FindMembership(ctx context.Context, id uint) (models.GroupMember, error) {
	membership, ok := s.memberships[id]
	if !ok {
		return models.GroupMember{}, gorm.ErrRecordNotFound
	}
	return membership, nil
}

func (s *groupRepoStub) FindMembershipByUser(ctx context.Context, groupID, userID uint) (models.GroupMember, error) {
	for _, membership := range s.memberships {
		if membership.GroupID == groupID && membership.MemberID == userID {
			return membership, nil
		}
	}
	return models.GroupMember{}, gorm.ErrRecordNotFound
}

func (s *groupRepoStub) ListMemberships(ctx context.Context, groupID uint) ([]models.GroupMember, error) {
	var memberships []models.GroupMember
	for _, membership := range s.memberships {
		if membership.GroupID == groupID {
			memberships = append(memberships, membership)
		}
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].ID < memberships[j].ID })
	return memberships, nil
}

func (s *groupRepoStub) SetAdmin(ctx context.Context, membershipID uint, isAdmin bool) (models.GroupMember, error) {
	membership, ok := s.memberships[membershipID]
	if !ok {
		return models.GroupMember{}, gorm.ErrRecordNotFound
	}
	membership.IsAdmin = isAdmin
	s.memberships[membershipID] = membership
	return membership, nil
}

func (s *groupRepoStub) AdminCount(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	for _, membership := range s.memberships {
		if membership.GroupID == groupID && membership.IsAdmin {
			count++
		}
	}
	return count, nil
}

func (s *groupRepoStub) PromoteEarliestMember(ctx context.Context, groupID, excludeMembershipID uint) (models.GroupMember, error) {
	memberships, _ := s.ListMemberships(ctx, groupID)
	for _, membership := range memberships {
		if membership.ID == excludeMembershipID {
			continue
		}
		membership.IsAdmin = true
		s.memberships[membership.ID] = membership
		return membership, nil
	}
	return models.GroupMember{}, gorm.ErrRecordNotFound
}

func (s *groupRepoStub) FindCopy(ctx context.Context, id uint) (models.GroupMemberCopy, error) {
	copy, ok := s.copies[id]
	if !ok {
		return models.GroupMemberCopy{}, gorm.ErrRecordNotFound
	}
	return copy, nil
}

func (s *groupRepoStub) FindCopyByMembership(ctx context.Context, membershipID uint) (models.GroupMemberCopy, error) {
	for _, copy := range s.copies {
		if copy.MembershipID == membershipID {
			return copy, nil
		}
	}
	return models.GroupMemberCopy{}, gorm.ErrRecordNotFound
}

func (s *groupRepoStub) ListMailboxes(ctx context.Context, groupID uint) ([]repository.GroupMailbox, error) {
	memberships, _ := s.ListMemberships(ctx, groupID)
	mailboxes := make([]repository.GroupMailbox, 0, len(memberships))
	for _, membership := range memberships {
		copy, err := s.FindCopyByMembership(ctx, membership.ID)
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, repository.GroupMailbox{Membership: membership, Copy: copy})
	}
	return mailboxes, nil
}

func (s *groupRepoStub) SetCopyArchived(ctx context.Context, copyID uint, archived bool) (models.GroupMemberCopy, error) {
	copy, ok := s.copies[copyID]
	if !ok {
		return models.GroupMemberCopy{}, gorm.ErrRecordNotFound
	}
	copy.IsArchived = archived
	s.copies[copyID] = copy
	return copy, nil
}

func (s *groupRepoStub) DeliverToMailbox(ctx context.Context, copyID, messageID, notifyUserID uint) (models.GroupMessage, *models.Notification, error) {
	if copyID == s.failDeliverCopy {
		return models.GroupMessage{}, nil, errors.New("mailbox unavailable")
	}

	s.nextMsgCopyID++
	messageCopy := models.GroupMessage{ID: s.nextMsgCopyID, MessageID: messageID, CopyID: copyID}
	s.messageCopies[messageCopy.ID] = messageCopy

	copy := s.copies[copyID]
	copy.LastMessageID = &messageCopy.ID
	s.copies[copyID] = copy

	var notification *models.Notification
	if notifyUserID != 0 {
		s.nextNoteID++
		notification = &models.Notification{ID: s.nextNoteID, MessageID: messageID, ReceiverID: notifyUserID}
	}
	return messageCopy, notification, nil
}

func (s *groupRepoStub) FindMessageCopy(ctx context.Context, id uint) (models.GroupMessage, error) {
	messageCopy, ok := s.messageCopies[id]
	if !ok {
		return models.GroupMessage{}, gorm.ErrRecordNotFound
	}
	messageCopy.Message = s.messages.messages[messageCopy.MessageID]
	return messageCopy, nil
}

func (s *groupRepoStub) ListMessageCopies(ctx context.Context, copyID uint, limit, offset int) ([]models.GroupMessage, error) {
	var copies []models.GroupMessage
	for _, messageCopy := range s.messageCopies {
		if messageCopy.CopyID == copyID {
			messageCopy.Message = s.messages.messages[messageCopy.MessageID]
			copies = append(copies, messageCopy)
		}
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].ID < copies[j].ID })
	return copies, nil
}

func (s *groupRepoStub) recompute(copyID uint) {
	copy := s.copies[copyID]
	copy.LastMessageID = nil
	for _, messageCopy := range s.messageCopies {
		if messageCopy.CopyID == copyID && (copy.LastMessageID == nil || messageCopy.ID > *copy.LastMessageID) {
			id := messageCopy.ID
			copy.LastMessageID = &id
		}
	}
	s.copies[copyID] = copy
}

func (s *groupRepoStub) DeleteMessageCopy(ctx context.Context, id uint) (models.GroupMemberCopy, bool, error) {
	messageCopy, ok := s.messageCopies[id]
	if !ok {
		return models.GroupMemberCopy{}, false, gorm.ErrRecordNotFound
	}
	delete(s.messageCopies, id)
	s.recompute(messageCopy.CopyID)

	deleted := true
	for _, other := range s.messageCopies {
		if other.MessageID == messageCopy.MessageID {
			deleted = false
		}
	}
	if deleted {
		delete(s.messages.messages, messageCopy.MessageID)
	}
	return s.copies[messageCopy.CopyID], deleted, nil
}

func (s *groupRepoStub) Unsend(ctx context.Context, messageID uint) ([]repository.GroupUnsendEntry, error) {
	entries, err := s.ListMessageHolders(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		delete(s.messageCopies, entry.MessageCopyID)
		s.recompute(entry.Copy.ID)
		entries[i].Copy = s.copies[entry.Copy.ID]
	}
	delete(s.messages.messages, messageID)
	return entries, nil
}

func (s *groupRepoStub) ListMessageHolders(ctx context.Context, messageID uint) ([]repository.GroupUnsendEntry, error) {
	var entries []repository.GroupUnsendEntry
	for _, messageCopy := range s.messageCopies {
		if messageCopy.MessageID != messageID {
			continue
		}
		copy := s.copies[messageCopy.CopyID]
		membership := s.memberships[copy.MembershipID]
		entries = append(entries, repository.GroupUnsendEntry{
			MemberID:      membership.MemberID,
			Copy:          copy,
			MessageCopyID: messageCopy.ID,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MessageCopyID < entries[j].MessageCopyID })
	return entries, nil
}

func newGroupServiceForTest() (GroupService, *groupRepoStub, *publisherStub) {
	messages := newMessageRepoStub()
	groups := newGroupRepoStub(messages)
	publisher := &publisherStub{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	messageService := NewMessageService(messages, testLogger())
	return NewGroupService(groups, messageService, publisher, validate, testLogger()), groups, publisher
}

func groupCopyID(id uint) string {
	return gid.Encode(gid.KindGroupCopy, id)
}

// seedGroup builds a three-member group: creator 7 (admin) plus members 8 and 9.
func seedGroup(t *testing.T, svc GroupService, groups *groupRepoStub) (models.UserGroup, map[uint]models.GroupMemberCopy) {
	t.Helper()

	created, err := svc.Create(context.Background(), 7, dto.CreateGroupRequest{Title: "Weekend Plans"})
	require.NoError(t, err)

	groupID, err := gid.Decode(gid.KindGroup, created.Group.ID)
	require.NoError(t, err)

	group := groups.groups[groupID]
	groups.addMembership(group.ID, 8, false)
	groups.addMembership(group.ID, 9, false)

	mailboxes := make(map[uint]models.GroupMemberCopy)
	boxes, err := groups.ListMailboxes(context.Background(), group.ID)
	require.NoError(t, err)
	for _, mailbox := range boxes {
		mailboxes[mailbox.Membership.MemberID] = mailbox.Copy
	}
	return groups.groups[group.ID], mailboxes
}

func TestGroupServiceCreateBootstrapsCreator(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()

	created, err := svc.Create(context.Background(), 7, dto.CreateGroupRequest{Title: "<b>Weekend</b> Plans", Description: "trip <i>ideas</i>"})
	require.NoError(t, err)
	require.Equal(t, "Weekend Plans", created.Group.Title)
	require.Equal(t, "trip ideas", created.Group.Description)
	require.Equal(t, 1, created.Group.MembersCount)
	require.True(t, created.Member.IsAdmin)
	require.NotEmpty(t, created.GroupCopy.ID)
	require.Len(t, groups.memberships, 1)
}

func TestGroupServiceCreateRejectsEmptyTitle(t *testing.T) {
	svc, _, _ := newGroupServiceForTest()

	_, err := svc.Create(context.Background(), 7, dto.CreateGroupRequest{Title: "<script>x</script>"})
	require.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestGroupServiceSendFanout(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)
	publisher.events = nil

	sent, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "who's in?"})
	require.NoError(t, err)
	require.Equal(t, "who's in?", sent.Message.Content)

	require.Len(t, groups.messageCopies, 3, "one copy per member")
	for memberID, mailbox := range mailboxes {
		require.NotNil(t, groups.copies[mailbox.ID].LastMessageID, "member %d mailbox pointer", memberID)
	}

	require.Equal(t, []realtime.Operation{realtime.OpMessageCreated}, publisher.operationsFor(8))
	require.Equal(t, []realtime.Operation{realtime.OpMessageCreated, realtime.OpNotificationCreated}, publisher.operationsFor(7))
	require.Equal(t, []realtime.Operation{realtime.OpMessageCreated, realtime.OpNotificationCreated}, publisher.operationsFor(9))
}

func TestGroupServiceSendSurvivesMemberFailure(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)
	groups.failDeliverCopy = mailboxes[9].ID
	publisher.events = nil

	_, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "partial"})
	require.NoError(t, err, "one member's failure must not fail the send")

	require.Len(t, groups.messageCopies, 2)
	require.Equal(t, []realtime.Operation{realtime.OpMessageCreated, realtime.OpNotificationCreated}, publisher.operationsFor(7))
	require.Empty(t, publisher.eventsFor(9))
}

func TestGroupServiceSendRequiresMailboxOwner(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.Send(context.Background(), 5, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "intruder"})
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}

func TestGroupServiceUnsendRemovesEveryCopy(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	sent, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "oops"})
	require.NoError(t, err)
	publisher.events = nil

	require.NoError(t, svc.Unsend(context.Background(), 8, sent.ID))
	require.Empty(t, groups.messageCopies)
	require.Empty(t, groups.messages.messages)

	for _, memberID := range []uint{7, 8, 9} {
		require.Equal(t, []realtime.Operation{realtime.OpMessageUnsent}, publisher.operationsFor(memberID))
	}
}

func TestGroupServiceUnsendRequiresSender(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	sent, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "mine"})
	require.NoError(t, err)

	err = svc.Unsend(context.Background(), 9, sent.ID)
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}

func TestGroupServiceDeleteMessageForSelf(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "hide me"})
	require.NoError(t, err)
	publisher.events = nil

	var nineCopy models.GroupMessage
	for _, messageCopy := range groups.messageCopies {
		if messageCopy.CopyID == mailboxes[9].ID {
			nineCopy = messageCopy
		}
	}
	require.NotZero(t, nineCopy.ID)

	require.NoError(t, svc.DeleteMessageForSelf(context.Background(), 9, gid.Encode(gid.KindGroupMessage, nineCopy.ID)))

	require.Len(t, groups.messageCopies, 2, "only the requester's copy is removed")
	require.Len(t, groups.messages.messages, 1, "shared message survives while copies remain")
	require.Equal(t, []realtime.Operation{realtime.OpMessageDeleted}, publisher.operationsFor(9))
	require.Empty(t, publisher.eventsFor(7))
	require.Empty(t, publisher.eventsFor(8))
}

func TestGroupServiceUpdateMessageNotifiesHolders(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	sent, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "v1"})
	require.NoError(t, err)
	publisher.events = nil

	updated, err := svc.UpdateMessage(context.Background(), 8, dto.UpdateGroupMessageRequest{GroupMessageID: sent.ID, Content: "v2"})
	require.NoError(t, err)
	require.Equal(t, "v2", updated.Message.Content)

	for _, memberID := range []uint{7, 8, 9} {
		require.Equal(t, []realtime.Operation{realtime.OpMessageUpdated}, publisher.operationsFor(memberID))
	}
}

func TestGroupServiceAddMemberRequiresAdmin(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	group, mailboxes := seedGroup(t, svc, groups)
	publisher.events = nil

	_, err := svc.AddMember(context.Background(), 8, dto.AddGroupMemberRequest{
		GroupCopyID: groupCopyID(mailboxes[8].ID),
		MemberID:    gid.Encode(gid.KindUser, 11),
	})
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	member, err := svc.AddMember(context.Background(), 7, dto.AddGroupMemberRequest{
		GroupCopyID: groupCopyID(mailboxes[7].ID),
		MemberID:    gid.Encode(gid.KindUser, 11),
	})
	require.NoError(t, err)
	require.False(t, member.IsAdmin)
	require.Equal(t, 4, groups.groups[group.ID].MembersCount)

	for _, memberID := range []uint{7, 8, 9, 11} {
		require.Equal(t, []realtime.Operation{realtime.OpMemberAdded}, publisher.operationsFor(memberID))
	}
}

func TestGroupServiceAddMemberRejectsDuplicate(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.AddMember(context.Background(), 7, dto.AddGroupMemberRequest{
		GroupCopyID: groupCopyID(mailboxes[7].ID),
		MemberID:    gid.Encode(gid.KindUser, 9),
	})
	require.Equal(t, apperr.CodeAlreadyExists, apperr.CodeOf(err))
}

func TestGroupServiceRemoveMemberCascades(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	group, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "soon gone"})
	require.NoError(t, err)
	publisher.events = nil

	nineMembership, err := groups.FindMembershipByUser(context.Background(), group.ID, 9)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMember(context.Background(), 7, gid.Encode(gid.KindGroupMember, nineMembership.ID)))

	require.Equal(t, 2, groups.groups[group.ID].MembersCount)
	require.Len(t, groups.messageCopies, 2, "the removed member's mailbox is gone")
	require.Equal(t, []realtime.Operation{realtime.OpMemberRemoved}, publisher.operationsFor(7))
	require.Equal(t, []realtime.Operation{realtime.OpMemberRemoved}, publisher.operationsFor(8))
}

func TestGroupServiceLeavePromotesEarliestMember(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	group, mailboxes := seedGroup(t, svc, groups)
	publisher.events = nil

	require.NoError(t, svc.Leave(context.Background(), 7, groupCopyID(mailboxes[7].ID)))

	require.Equal(t, 2, groups.groups[group.ID].MembersCount)

	eight, err := groups.FindMembershipByUser(context.Background(), group.ID, 8)
	require.NoError(t, err)
	require.True(t, eight.IsAdmin, "earliest-joined remaining member takes over")

	nine, err := groups.FindMembershipByUser(context.Background(), group.ID, 9)
	require.NoError(t, err)
	require.False(t, nine.IsAdmin)

	require.Equal(t, []realtime.Operation{realtime.OpMemberLeft}, publisher.operationsFor(8))
	require.Equal(t, []realtime.Operation{realtime.OpMemberLeft}, publisher.operationsFor(9))
}

func TestGroupServiceChangeAdminRequiresAdmin(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	group, _ := seedGroup(t, svc, groups)

	nine, err := groups.FindMembershipByUser(context.Background(), group.ID, 9)
	require.NoError(t, err)

	_, err = svc.ChangeAdmin(context.Background(), 8, dto.ChangeAdminRequest{GroupMemberID: gid.Encode(gid.KindGroupMember, nine.ID), IsAdmin: true})
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	promoted, err := svc.ChangeAdmin(context.Background(), 7, dto.ChangeAdminRequest{GroupMemberID: gid.Encode(gid.KindGroupMember, nine.ID), IsAdmin: true})
	require.NoError(t, err)
	require.True(t, promoted.IsAdmin)
}

func TestGroupServiceChangeAdminKeepsLastAdmin(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	group, _ := seedGroup(t, svc, groups)

	creator, err := groups.FindMembershipByUser(context.Background(), group.ID, 7)
	require.NoError(t, err)

	_, err = svc.ChangeAdmin(context.Background(), 7, dto.ChangeAdminRequest{GroupMemberID: gid.Encode(gid.KindGroupMember, creator.ID), IsAdmin: false})
	require.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), "sole admin cannot be demoted")

	nine, err := groups.FindMembershipByUser(context.Background(), group.ID, 9)
	require.NoError(t, err)
	_, err = svc.ChangeAdmin(context.Background(), 7, dto.ChangeAdminRequest{GroupMemberID: gid.Encode(gid.KindGroupMember, nine.ID), IsAdmin: true})
	require.NoError(t, err)

	demoted, err := svc.ChangeAdmin(context.Background(), 7, dto.ChangeAdminRequest{GroupMemberID: gid.Encode(gid.KindGroupMember, creator.ID), IsAdmin: false})
	require.NoError(t, err)
	require.False(t, demoted.IsAdmin, "demote allowed once another admin exists")
}

func TestGroupServiceDeletePermanentlyCreatorOnly(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	group, mailboxes := seedGroup(t, svc, groups)
	publisher.events = nil

	err := svc.DeletePermanently(context.Background(), 8, groupCopyID(mailboxes[8].ID))
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	require.NoError(t, svc.DeletePermanently(context.Background(), 7, groupCopyID(mailboxes[7].ID)))
	require.Empty(t, groups.groups)
	require.Empty(t, groups.memberships)

	// Member ids were captured before the cascade, so every former member
	// still hears about the removal.
	require.Equal(t, []realtime.Operation{realtime.OpGroupRemoved}, publisher.operationsFor(7))
	require.Equal(t, []realtime.Operation{realtime.OpGroupRemoved}, publisher.operationsFor(8))
	require.Equal(t, []realtime.Operation{realtime.OpGroupRemoved}, publisher.operationsFor(9))
	require.Equal(t, group.Title, publisher.eventsFor(9)[0].Group.Title)
}

func TestGroupServiceUpdateInfoFanout(t *testing.T) {
	svc, groups, publisher := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)
	publisher.events = nil

	title := "Summer Plans"
	updated, err := svc.Update(context.Background(), 7, dto.UpdateGroupRequest{GroupCopyID: groupCopyID(mailboxes[7].ID), Title: &title})
	require.NoError(t, err)
	require.Equal(t, "Summer Plans", updated.Title)

	for _, memberID := range []uint{7, 8, 9} {
		require.Equal(t, []realtime.Operation{realtime.OpGroupUpdated}, publisher.operationsFor(memberID))
	}
}

func TestGroupServiceArchiveMailboxOwnerOnly(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.SetArchived(context.Background(), 9, dto.ArchiveGroupCopyRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Archived: true})
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	mailbox, err := svc.SetArchived(context.Background(), 8, dto.ArchiveGroupCopyRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Archived: true})
	require.NoError(t, err)
	require.True(t, mailbox.IsArchived)
}

func TestGroupServiceHistoryMailboxOwnerOnly(t *testing.T) {
	svc, groups, _ := newGroupServiceForTest()
	_, mailboxes := seedGroup(t, svc, groups)

	_, err := svc.Send(context.Background(), 8, dto.SendGroupMessageRequest{GroupCopyID: groupCopyID(mailboxes[8].ID), Content: "first"})
	require.NoError(t, err)

	history, err := svc.History(context.Background(), 8, dto.GroupHistoryQuery{GroupCopyID: groupCopyID(mailboxes[8].ID)})
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = svc.History(context.Background(), 9, dto.GroupHistoryQuery{GroupCopyID: groupCopyID(mailboxes[8].ID)})
	require.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
}
