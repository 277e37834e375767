package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/apperr"
)

// ChatUnsendEntry describes one mailbox touched by a global unsend.
type ChatUnsendEntry struct {
	Chat   models.Chat
	CopyID uint
}

// ChatRepository stores per-user direct-chat mailboxes and their message
// copies. Every mutating method that touches a mailbox runs copy changes and
// last-message maintenance in one transaction.
type ChatRepository interface {
	CreatePair(ctx context.Context, userID, otherUserID uint) (models.Chat, models.Chat, error)
	FindByID(ctx context.Context, id uint) (models.Chat, error)
	FindMirror(ctx context.Context, userID, otherUserID uint) (models.Chat, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Chat, error)
	FindCopy(ctx context.Context, id uint) (models.ChatMessage, error)
	ListCopies(ctx context.Context, chatID uint, limit, offset int) ([]models.ChatMessage, error)
	CopiesOfMessage(ctx context.Context, messageID uint) ([]models.ChatMessage, error)
	AttachMessage(ctx context.Context, chatID, messageID, notifyUserID uint) (models.ChatMessage, *models.Notification, error)
	DeleteCopy(ctx context.Context, copyID uint) (models.Chat, bool, error)
	Unsend(ctx context.Context, messageID uint) ([]ChatUnsendEntry, error)
	DeleteChatCopies(ctx context.Context, chatID uint) error
	SetArchived(ctx context.Context, chatID uint, archived bool) (models.Chat, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreatePair(ctx context.Context, userID, otherUserID uint) (models.Chat, models.Chat, error) {
	var chat, mirror models.Chat

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Chat{}).
			Where("user_id = ? AND other_user_id = ?", userID, otherUserID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.AlreadyExists("chat already exists")
		}

		chat = models.Chat{UserID: userID, OtherUserID: otherUserID}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}

		// A self-chat is a single row serving both sides.
		if userID == otherUserID {
			mirror = chat
			return nil
		}

		mirror = models.Chat{UserID: otherUserID, OtherUserID: userID}
		return tx.Create(&mirror).Error
	})
	if err != nil {
		return models.Chat{}, models.Chat{}, err
	}

	return chat, mirror, nil
}

func (r *chatRepository) FindByID(ctx context.Context, id uint) (models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).First(&chat, id).Error; err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) FindMirror(ctx context.Context, userID, otherUserID uint) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND other_user_id = ?", userID, otherUserID).
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) ListByUser(ctx context.Context, userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) FindCopy(ctx context.Context, id uint) (models.ChatMessage, error) {
	var copy models.ChatMessage
	if err := r.db.WithContext(ctx).Preload("Message").First(&copy, id).Error; err != nil {
		return models.ChatMessage{}, err
	}
	return copy, nil
}

func (r *chatRepository) ListCopies(ctx context.Context, chatID uint, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var copies []models.ChatMessage
	err := r.db.WithContext(ctx).
		Preload("Message").
		Joins("JOIN messages ON messages.id = chat_messages.message_id").
		Where("chat_messages.chat_id = ?", chatID).
		Order("messages.created_at DESC, chat_messages.id DESC").
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

func (r *chatRepository) CopiesOfMessage(ctx context.Context, messageID uint) ([]models.ChatMessage, error) {
	var copies []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&copies).Error
	if err != nil {
		return nil, err
	}
	return copies, nil
}

func (r *chatRepository) AttachMessage(ctx context.Context, chatID, messageID, notifyUserID uint) (models.ChatMessage, *models.Notification, error) {
	var (
		copy         models.ChatMessage
		notification *models.Notification
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		copy = models.ChatMessage{ChatID: chatID, MessageID: messageID}
		if err := tx.Create(&copy).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Update("last_message_id", copy.ID).Error; err != nil {
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
		return models.ChatMessage{}, nil, err
	}

	return copy, notification, nil
}

func (r *chatRepository) DeleteCopy(ctx context.Context, copyID uint) (models.Chat, bool, error) {
	var (
		chat           models.Chat
		messageDeleted bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var copy models.ChatMessage
		if err := tx.First(&copy, copyID).Error; err != nil {
			return err
		}

		// Lock the mailbox before removing the copy so concurrent deletes
		// serialize their last-message recompute.
		if err := lockForUpdate(tx).First(&chat, copy.ChatID).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.ChatMessage{}, copy.ID).Error; err != nil {
			return err
		}

		if chat.LastMessageID != nil && *chat.LastMessageID == copy.ID {
			if err := recomputeChatLastMessage(tx, &chat, 0); err != nil {
				return err
			}
		}

		deleted, err := deleteMessageIfUnreferenced(tx, copy.MessageID)
		if err != nil {
			return err
		}
		messageDeleted = deleted
		return nil
	})
	if err != nil {
		return models.Chat{}, false, err
	}

	return chat, messageDeleted, nil
}

func (r *chatRepository) Unsend(ctx context.Context, messageID uint) ([]ChatUnsendEntry, error) {
	var entries []ChatUnsendEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var copies []models.ChatMessage
		if err := tx.Where("message_id = ?", messageID).Order("chat_id ASC").Find(&copies).Error; err != nil {
			return err
		}

		// Mailboxes are locked in id order before any copy is removed, so
		// concurrent deletes serialize their recompute without deadlocking.
		for _, copy := range copies {
			var chat models.Chat
			if err := lockForUpdate(tx).First(&chat, copy.ChatID).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}

		for _, copy := range copies {
			var chat models.Chat
			if err := tx.First(&chat, copy.ChatID).Error; err != nil {
				return err
			}

			if chat.LastMessageID != nil && *chat.LastMessageID == copy.ID {
				if err := recomputeChatLastMessage(tx, &chat, 0); err != nil {
					return err
				}
			}

			entries = append(entries, ChatUnsendEntry{Chat: chat, CopyID: copy.ID})
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

func (r *chatRepository) DeleteChatCopies(ctx context.Context, chatID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := lockForUpdate(tx).First(&chat, chatID).Error; err != nil {
			return err
		}

		var copies []models.ChatMessage
		if err := tx.Where("chat_id = ?", chatID).Find(&copies).Error; err != nil {
			return err
		}

		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Update("last_message_id", nil).Error; err != nil {
			return err
		}

		for _, copy := range copies {
			if _, err := deleteMessageIfUnreferenced(tx, copy.MessageID); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *chatRepository) SetArchived(ctx context.Context, chatID uint, archived bool) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&chat, chatID).Error; err != nil {
			return err
		}
		if err := tx.Model(&chat).Update("archived", archived).Error; err != nil {
			return err
		}
		chat.Archived = archived
		return nil
	})
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// lockForUpdate adds a row-level FOR UPDATE clause on dialects that support
// it. The sqlite test driver has a single writer and no row locks.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// recomputeChatLastMessage points the chat at its remaining copy with the
// greatest message time, or clears the pointer when the mailbox is empty.
// excludeMessageID skips copies of a message that is about to be deleted in
// the same transaction.
func recomputeChatLastMessage(tx *gorm.DB, chat *models.Chat, excludeMessageID uint) error {
	query := tx.Model(&models.ChatMessage{}).
		Joins("JOIN messages ON messages.id = chat_messages.message_id").
		Where("chat_messages.chat_id = ?", chat.ID)
	if excludeMessageID != 0 {
		query = query.Where("chat_messages.message_id <> ?", excludeMessageID)
	}

	var next models.ChatMessage
	err := query.Order("messages.created_at DESC, chat_messages.id DESC").First(&next).Error
	switch {
	case err == nil:
		chat.LastMessageID = &next.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		chat.LastMessageID = nil
	default:
		return err
	}

	return tx.Model(&models.Chat{}).
		Where("id = ?", chat.ID).
		Update("last_message_id", chat.LastMessageID).Error
}

// deleteMessageIfUnreferenced garbage-collects a message once no chat or
// group copy references it anymore. Notifications go with the message.
func deleteMessageIfUnreferenced(tx *gorm.DB, messageID uint) (bool, error) {
	var chatRefs int64
	if err := tx.Model(&models.ChatMessage{}).Where("message_id = ?", messageID).Count(&chatRefs).Error; err != nil {
		return false, err
	}
	if chatRefs > 0 {
		return false, nil
	}

	var groupRefs int64
	if err := tx.Model(&models.GroupMessage{}).Where("message_id = ?", messageID).Count(&groupRefs).Error; err != nil {
		return false, err
	}
	if groupRefs > 0 {
		return false, nil
	}

	if err := tx.Where("message_id = ?", messageID).Delete(&models.Notification{}).Error; err != nil {
		return false, err
	}

	if err := tx.Delete(&models.Message{}, messageID).Error; err != nil {
		return false, err
	}

	return true, nil
}
