package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/apperr"
)

// GroupMailbox pairs a live membership with its private mailbox copy.
type GroupMailbox struct {
	Membership models.GroupMember
	Copy       models.GroupMemberCopy
}

// GroupUnsendEntry describes one member mailbox touched by a global unsend.
type GroupUnsendEntry struct {
	MemberID      uint
	Copy          models.GroupMemberCopy
	MessageCopyID uint
}

// GroupRepository stores groups, memberships, and the per-member mailbox
// copies used for group message fanout. MembersCount is maintained in the
// same transaction as every membership change.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *models.UserGroup, creatorID uint) (models.GroupMember, models.GroupMemberCopy, error)
	FindGroup(ctx context.Context, id uint) (models.UserGroup, error)
	UpdateGroupInfo(ctx context.Context, groupID uint, title, description *string) (models.UserGroup, error)
	DeleteGroup(ctx context.Context, groupID uint) ([]uint, error)

	AddMember(ctx context.Context, groupID, memberID uint, isAdmin bool) (models.GroupMember, models.GroupMemberCopy, error)
	RemoveMember(ctx context.Context, membershipID uint) error
	FindMembership(ctx context.Context, id uint) (models.GroupMember, error)
	FindMembershipByUser(ctx context.Context, groupID, userID uint) (models.GroupMember, error)
	ListMemberships(ctx context.Context, groupID uint) ([]models.GroupMember, error)
	SetAdmin(ctx context.Context, membershipID uint, isAdmin bool) (models.GroupMember, error)
	AdminCount(ctx context.Context, groupID uint) (int64, error)
	PromoteEarliestMember(ctx context.Context, groupID, excludeMembershipID uint) (models.GroupMember, error)

	FindCopy(ctx context.Context, id uint) (models.GroupMemberCopy, error)
	FindCopyByMembership(ctx context.Context, membershipID uint) (models.GroupMemberCopy, error)
	ListMailboxes(ctx context.Context, groupID uint) ([]GroupMailbox, error)
	SetCopyArchived(ctx context.Context, copyID uint, archived bool) (models.GroupMemberCopy, error)

	DeliverToMailbox(ctx context.Context, copyID, messageID, notifyUserID uint) (models.GroupMessage, *models.Notification, error)
	FindMessageCopy(ctx context.Context, id uint) (models.GroupMessage, error)
	ListMessageCopies(ctx context.Context, copyID uint, limit, offset int) ([]models.GroupMessage, error)
	DeleteMessageCopy(ctx context.Context, id uint) (models.GroupMemberCopy, bool, error)
	Unsend(ctx context.Context, messageID uint) ([]GroupUnsendEntry, error)
	ListMessageHolders(ctx context.Context, messageID uint) ([]GroupUnsendEntry, error)
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository constructs a group repository backed by GORM.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) CreateGroup(ctx context.Context, group *models.UserGroup, creatorID uint) (models.GroupMember, models.GroupMemberCopy, error) {
	var (
		membership models.GroupMember
		copy       models.GroupMemberCopy
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group.CreatedByID = creatorID
		group.MembersCount = 1
		if err := tx.Create(group).Error; err != nil {
			return err
		}

		membership = models.GroupMember{GroupID: group.ID, MemberID: creatorID, IsAdmin: true}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		copy = models.GroupMemberCopy{MembershipID: membership.ID}
		return tx.Create(&copy).Error
	})
	if err != nil {
		return models.GroupMember{}, models.GroupMemberCopy{}, err
	}

	return membership, copy, nil
}

func (r *groupRepository) FindGroup(ctx context.Context, id uint) (models.UserGroup, error) {
	var group models.UserGroup
	if err := r.db.WithContext(ctx).First(&group, id).Error; err != nil {
		return models.UserGroup{}, err
	}
	return group, nil
}

func (r *groupRepository) UpdateGroupInfo(ctx context.Context, groupID uint, title, description *string) (models.UserGroup, error) {
	var group models.UserGroup
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&group, groupID).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if title != nil {
			updates["title"] = *title
		}
		if description != nil {
			updates["description"] = *description
		}
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&group).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&group, groupID).Error
	})
	if err != nil {
		return models.UserGroup{}, err
	}
	return group, nil
}

func (r *groupRepository) DeleteGroup(ctx context.Context, groupID uint) ([]uint, error) {
	var memberIDs []uint

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []models.GroupMember
		if err := tx.Where("group_id = ?", groupID).Find(&memberships).Error; err != nil {
			return err
		}

		membershipIDs := make([]uint, 0, len(memberships))
		for _, membership := range memberships {
			memberIDs = append(memberIDs, membership.MemberID)
			membershipIDs = append(membershipIDs, membership.ID)
		}

		if len(membershipIDs) > 0 {
			var copies []models.GroupMemberCopy
			if err := tx.Where("membership_id IN ?", membershipIDs).Find(&copies).Error; err != nil {
				return err
			}

			copyIDs := make([]uint, 0, len(copies))
			for _, copy := range copies {
				copyIDs = append(copyIDs, copy.ID)
			}

			if len(copyIDs) > 0 {
				var messageIDs []uint
				if err := tx.Model(&models.GroupMessage{}).
					Distinct("message_id").
					Where("copy_id IN ?", copyIDs).
					Pluck("message_id", &messageIDs).Error; err != nil {
					return err
				}

				if err := tx.Where("copy_id IN ?", copyIDs).Delete(&models.GroupMessage{}).Error; err != nil {
					return err
				}

				for _, messageID := range messageIDs {
					if _, err := deleteMessageIfUnreferenced(tx, messageID); err != nil {
						return err
					}
				}
			}

			if err := tx.Where("membership_id IN ?", membershipIDs).Delete(&models.GroupMemberCopy{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}

		return tx.Delete(&models.UserGroup{}, groupID).Error
	})
	if err != nil {
		return nil, err
	}

	return memberIDs, nil
}

func (r *groupRepository) AddMember(ctx context.Context, groupID, memberID uint, isAdmin bool) (models.GroupMember, models.GroupMemberCopy, error) {
	var (
		membership models.GroupMember
		copy       models.GroupMemberCopy
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.GroupMember{}).
			Where("group_id = ? AND member_id = ?", groupID, memberID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.AlreadyExists("user is already a group member")
		}

		membership = models.GroupMember{GroupID: groupID, MemberID: memberID, IsAdmin: isAdmin}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		copy = models.GroupMemberCopy{MembershipID: membership.ID}
		if err := tx.Create(&copy).Error; err != nil {
			return err
		}

		return tx.Model(&models.UserGroup{}).
			Where("id = ?", groupID).
			Update("members_count", gorm.Expr("members_count + 1")).Error
	})
	if err != nil {
		return models.GroupMember{}, models.GroupMemberCopy{}, err
	}

	return membership, copy, nil
}

func (r *groupRepository) RemoveMember(ctx context.Context, membershipID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.GroupMember
		if err := tx.First(&membership, membershipID).Error; err != nil {
			return err
		}

		var copy models.GroupMemberCopy
		err := tx.Where("membership_id = ?", membershipID).First(&copy).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			var messageIDs []uint
			if err := tx.Model(&models.GroupMessage{}).
				Distinct("message_id").
				Where("copy_id = ?", copy.ID).
				Pluck("message_id", &messageIDs).Error; err != nil {
				return err
			}

			if err := tx.Where("copy_id = ?", copy.ID).Delete(&models.GroupMessage{}).Error; err != nil {
				return err
			}

			for _, messageID := range messageIDs {
				if _, err := deleteMessageIfUnreferenced(tx, messageID); err != nil {
					return err
				}
			}

			if err := tx.Delete(&models.GroupMemberCopy{}, copy.ID).Error; err != nil {
				return err
			}
		}

		if err := tx.Delete(&models.GroupMember{}, membershipID).Error; err != nil {
			return err
		}

		return tx.Model(&models.UserGroup{}).
			Where("id = ?", membership.GroupID).
			Update("members_count", gorm.Expr("members_count - 1")).Error
	})
}

func (r *groupRepository) FindMembership(ctx context.Context, id uint) (models.GroupMember, error) {
	var membership models.GroupMember
	if err := r.db.WithContext(ctx).First(&membership, id).Error; err != nil {
		return models.GroupMember{}, err
	}
	return membership, nil
}

func (r *groupRepository) FindMembershipByUser(ctx context.Context, groupID, userID uint) (models.GroupMember, error) {
	var membership models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND member_id = ?", groupID, userID).
		First(&membership).Error
	if err != nil {
		return models.GroupMember{}, err
	}
	return membership, nil
}

func (r *groupRepository) ListMemberships(ctx context.Context, groupID uint) ([]models.GroupMember, error) {
	var memberships []models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("joined_at ASC, id ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *groupRepository) SetAdmin(ctx context.Context, membershipID uint, isAdmin bool) (models.GroupMember, error) {
	var membership models.GroupMember
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&membership, membershipID).Error; err != nil {
			return err
		}
		if err := tx.Model(&membership).Update("is_admin", isAdmin).Error; err != nil {
			return err
		}
		membership.IsAdmin = isAdmin
		return nil
	})
	if err != nil {
		return models.GroupMember{}, err
	}
	return membership, nil
}

func (r *groupRepository) AdminCount(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND is_admin = ?", groupID, true).
		Count(&count).Error
	return count, err
}

func (r *groupRepository) PromoteEarliestMember(ctx context.Context, groupID, excludeMembershipID uint) (models.GroupMember, error) {
	var membership models.GroupMember
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("group_id = ? AND id <> ?", groupID, excludeMembershipID).
			Order("joined_at ASC, id ASC").
			First(&membership).Error
		if err != nil {
			return err
		}
		if err := tx.Model(&membership).Update("is_admin", true).Error; err != nil {
			return err
		}
		membership.IsAdmin = true
		return nil
	})
	if err != nil {
		return models.GroupMember{}, err
	}
	return membership, nil
}

func (r *groupRepository) FindCopy(ctx context.Context, id uint) (models.GroupMemberCopy, error) {
	var copy models.GroupMemberCopy
	if err := r.db.WithContext(ctx).First(&copy, id).Error; err != nil {
		return models.GroupMemberCopy{}, err
	}
	return copy, nil
}

func (r *groupRepository) FindCopyByMembership(ctx context.Context, membershipID uint) (models.GroupMemberCopy, error) {
	var copy models.GroupMemberCopy
	err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		First(&copy).Error
	if err != nil {
		return models.GroupMemberCopy{}, err
	}
	return copy, nil
}

func (r *groupRepository) ListMailboxes(ctx context.Context, groupID uint) ([]GroupMailbox, error) {
	memberships, err := r.ListMemberships(ctx, groupID)
	if err != nil {
		return nil, err
	}

	mailboxes := make([]GroupMailbox, 0, len(memberships))
	for _, membership := range memberships {
		copy, err := r.FindCopyByMembership(ctx, membership.ID)
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, GroupMailbox{Membership: membership, Copy: copy})
	}

	return mailboxes, nil
}

func (r *groupRepository) SetCopyArchived(ctx context.Context, copyID uint, archived bool) (models.GroupMemberCopy, error) {
	var copy models.GroupMemberCopy
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&copy, copyID).Error; err != nil {
			return err
		}
		if err := tx.Model(&copy).Update("is_archived", archived).Error; err != nil {
			return err
		}
		copy.IsArchived = archived
		return nil
	})
	if err != nil {
		return models.GroupMemberCopy{}, err
	}
	return copy, nil
}

func (r *groupRepository) DeliverToMailbox(ctx context.Context, copyID, messageID, notifyUserID uint) (models.GroupMessage, *models.Notification, error) {
	var (
		messageCopy  models.GroupMessage
		notification *models.Notification
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageCopy = models.GroupMessage{MessageID: messageID, CopyID: copyID}
		if err := tx.Create(&messageCopy).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.GroupMemberCopy{}).
			Where("id = ?", copyID).
			Update("last_message_id", messageCopy.ID).Error; err != nil {
			return err
		}

		if notifyUserID != 0 {
			created := models.Notification{MessageID: messageID, ReceiverID: notifyUserID}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			notification = &created
		}

		return nil
	})
	if err != nil {
		return models.GroupMessage{}, nil, err
	}

	return messageCopy, notification, nil
}

func (r *groupRepository) FindMessageCopy(ctx context.Context, id uint) (models.GroupMessage, error) {
	var messageCopy models.GroupMessage
	if err := r.db.WithContext(ctx).Preload("Message").First(&messageCopy, id).Error; err != nil {
		return models.GroupMessage{}, err
	}
	return messageCopy, nil
}

func (r *groupRepository) ListMessageCopies(ctx context.Context, copyID uint, limit, offset int) ([]models.GroupMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var copies []models.GroupMessage
	err := r.db.WithContext(ctx).
		Preload("Message").
		Joins("JOIN messages ON messages.id = group_messages.message_id").
		Where("group_messages.copy_id = ?", copyID).
		Order("messages.created_at DESC, group_messages.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&copies).Error
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(copies)-1; i < j; i, j = i+1, j-1 {
		copies[i], copies[j] = copies[j], copies[i]
	}

	return copies, nil
}

func (r *groupRepository) DeleteMessageCopy(ctx context.Context, id uint) (models.GroupMemberCopy, bool, error) {
	var (
		mailbox        models.GroupMemberCopy
		messageDeleted bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messageCopy models.GroupMessage
		if err := tx.First(&messageCopy, id).Error; err != nil {
			return err
		}

		// Lock the mailbox before removing the copy so concurrent deletes
		// serialize their last-message recompute.
		if err := lockForUpdate(tx).First(&mailbox, messageCopy.CopyID).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.GroupMessage{}, messageCopy.ID).Error; err != nil {
			return err
		}

		if mailbox.LastMessageID != nil && *mailbox.LastMessageID == messageCopy.ID {
			if err := recomputeGroupLastMessage(tx, &mailbox); err != nil {
				return err
			}
		}

		deleted, err := deleteMessageIfUnreferenced(tx, messageCopy.MessageID)
		if err != nil {
			return err
		}
		messageDeleted = deleted
		return nil
	})
	if err != nil {
		return models.GroupMemberCopy{}, false, err
	}

	return mailbox, messageDeleted, nil
}

func (r *groupRepository) Unsend(ctx context.Context, messageID uint) ([]GroupUnsendEntry, error) {
	var entries []GroupUnsendEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		holders, err := messageHolders(tx, messageID)
		if err != nil {
			return err
		}

		// Mailboxes are locked in id order before any copy is removed, so
		// concurrent deletes serialize their recompute without deadlocking.
		for i := range holders {
			if err := lockForUpdate(tx).First(&holders[i].Copy, holders[i].Copy.ID).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&models.GroupMessage{}).Error; err != nil {
			return err
		}

		for _, holder := range holders {
			mailbox := holder.Copy
			if mailbox.LastMessageID != nil && *mailbox.LastMessageID == holder.MessageCopyID {
				if err := recomputeGroupLastMessage(tx, &mailbox); err != nil {
					return err
				}
			}
			holder.Copy = mailbox
			entries = append(entries, holder)
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}

		return tx.Delete(&models.Message{}, messageID).Error
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *groupRepository) ListMessageHolders(ctx context.Context, messageID uint) ([]GroupUnsendEntry, error) {
	return messageHolders(r.db.WithContext(ctx), messageID)
}

// messageHolders resolves every member mailbox holding a copy of a message,
// with the owning member id for event addressing.
func messageHolders(tx *gorm.DB, messageID uint) ([]GroupUnsendEntry, error) {
	var copies []models.GroupMessage
	if err := tx.Where("message_id = ?", messageID).Order("copy_id ASC").Find(&copies).Error; err != nil {
		return nil, err
	}

	entries := make([]GroupUnsendEntry, 0, len(copies))
	for _, messageCopy := range copies {
		var mailbox models.GroupMemberCopy
		if err := tx.First(&mailbox, messageCopy.CopyID).Error; err != nil {
			return nil, err
		}

		var membership models.GroupMember
		if err := tx.First(&membership, mailbox.MembershipID).Error; err != nil {
			return nil, err
		}

		entries = append(entries, GroupUnsendEntry{
			MemberID:      membership.MemberID,
			Copy:          mailbox,
			MessageCopyID: messageCopy.ID,
		})
	}

	return entries, nil
}

// recomputeGroupLastMessage points the mailbox at its remaining copy with the
// greatest message time, or clears the pointer when the mailbox is empty.
func recomputeGroupLastMessage(tx *gorm.DB, mailbox *models.GroupMemberCopy) error {
	var next models.GroupMessage
	err := tx.Model(&models.GroupMessage{}).
		Joins("JOIN messages ON messages.id = group_messages.message_id").
		Where("group_messages.copy_id = ?", mailbox.ID).
		Order("messages.created_at DESC, group_messages.id DESC").
		First(&next).Error
	switch {
	case err == nil:
		mailbox.LastMessageID = &next.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		mailbox.LastMessageID = nil
	default:
		return err
	}

	return tx.Model(&models.GroupMemberCopy{}).
		Where("id = ?", mailbox.ID).
		Update("last_message_id", mailbox.LastMessageID).Error
}
