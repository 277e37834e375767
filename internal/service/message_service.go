package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/pkg/apperr"
)

// MessageService is the content factory shared by direct and group fanout:
// it sanitizes raw input, creates the canonical message record, and guards
// in-place edits behind authorship.
type MessageService interface {
	Create(ctx context.Context, senderID uint, rawContent string) (models.Message, error)
	UpdateContent(ctx context.Context, message models.Message, requesterID uint, rawContent string) (models.Message, error)
	MarkRead(ctx context.Context, messageID uint) (models.Message, error)
}

type messageService struct {
	repo      repository.MessageRepository
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewMessageService constructs the message content factory.
func NewMessageService(repo repository.MessageRepository, logger zerolog.Logger) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &messageService{
		repo:      repo,
		sanitizer: sanitizer,
		logger:    logger.With().Str("component", "message_service").Logger(),
	}
}

func (s *messageService) Create(ctx context.Context, senderID uint, rawContent string) (models.Message, error) {
	content, err := s.clean(rawContent)
	if err != nil {
		return models.Message{}, err
	}

	message := models.Message{SenderID: senderID, Content: content}
	if err := s.repo.Create(ctx, &message); err != nil {
		return models.Message{}, err
	}

	return message, nil
}

func (s *messageService) UpdateContent(ctx context.Context, message models.Message, requesterID uint, rawContent string) (models.Message, error) {
	if message.SenderID != requesterID {
		return models.Message{}, apperr.PermissionDenied("only the sender can edit a message")
	}

	content, err := s.clean(rawContent)
	if err != nil {
		return models.Message{}, err
	}

	updated, err := s.repo.UpdateContent(ctx, message.ID, content)
	if err != nil {
		return models.Message{}, mapNotFound(err, "message not found")
	}

	return updated, nil
}

func (s *messageService) MarkRead(ctx context.Context, messageID uint) (models.Message, error) {
	message, err := s.repo.MarkRead(ctx, messageID, time.Now().UTC())
	if err != nil {
		return models.Message{}, mapNotFound(err, "message not found")
	}
	return message, nil
}

func (s *messageService) clean(rawContent string) (string, error) {
	content := strings.TrimSpace(s.sanitizer.Sanitize(rawContent))
	if content == "" {
		return "", apperr.Invalid("message content is empty")
	}
	return content, nil
}

// mapNotFound converts a gorm missing-record error into the user-facing
// not-found kind; everything else passes through untouched.
func mapNotFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(message)
	}
	return err
}
