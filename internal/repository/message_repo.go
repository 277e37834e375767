package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/buddychat/buddychat-api/internal/models"
)

// MessageRepository persists canonical message records. Copies referencing a
// message are owned by the chat and group repositories.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (models.Message, error)
	UpdateContent(ctx context.Context, id uint, content string) (models.Message, error)
	MarkRead(ctx context.Context, id uint, at time.Time) (models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uint, content string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}
		// CreatedAt stays untouched so mailbox ordering is stable across edits.
		if err := tx.Model(&message).Update("content", content).Error; err != nil {
			return err
		}
		message.Content = content
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id uint, at time.Time) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}
		if message.ReadAt != nil {
			return nil
		}
		if err := tx.Model(&message).Update("read_at", at).Error; err != nil {
			return err
		}
		message.ReadAt = &at
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}
