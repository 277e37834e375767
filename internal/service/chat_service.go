package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/internal/observability"
	"github.com/buddychat/buddychat-api/internal/realtime"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/pkg/apperr"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// ChatService is the fanout engine for direct chats: every send maintains
// one mailbox copy per side, keeps both last-message pointers current, and
// pushes events to the affected users' channels after the mailbox commits.
type ChatService interface {
	Create(ctx context.Context, requesterID uint, req dto.CreateChatRequest) (dto.ChatPairResponse, error)
	List(ctx context.Context, requesterID uint) ([]dto.ChatResponse, error)
	History(ctx context.Context, requesterID uint, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	Send(ctx context.Context, requesterID uint, req dto.SendChatMessageRequest) (dto.ChatMessageResponse, error)
	UpdateMessage(ctx context.Context, requesterID uint, req dto.UpdateChatMessageRequest) (dto.ChatMessageResponse, error)
	MarkMessageRead(ctx context.Context, requesterID uint, chatMessageID string) (dto.ChatMessageResponse, error)
	Unsend(ctx context.Context, requesterID uint, chatMessageID string) error
	DeleteForSelf(ctx context.Context, requesterID uint, chatMessageID string) error
	DeleteChat(ctx context.Context, requesterID uint, chatID string) error
	SetArchived(ctx context.Context, requesterID uint, req dto.ArchiveChatRequest) (dto.ChatResponse, error)
}

type chatService struct {
	chats     repository.ChatRepository
	messages  MessageService
	publisher realtime.Publisher
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewChatService constructs the direct-chat fanout engine.
func NewChatService(chats repository.ChatRepository, messages MessageService, publisher realtime.Publisher, validate *validator.Validate, logger zerolog.Logger) ChatService {
	return &chatService{
		chats:     chats,
		messages:  messages,
		publisher: publisher,
		validator: validate,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		tracer:    otel.Tracer("github.com/buddychat/buddychat-api/internal/service/chat"),
	}
}

func (s *chatService) Create(ctx context.Context, requesterID uint, req dto.CreateChatRequest) (dto.ChatPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatPairResponse{}, apperr.Invalid("other_user_id is required")
	}

	otherUserID, err := gid.Decode(gid.KindUser, req.OtherUserID)
	if err != nil {
		return dto.ChatPairResponse{}, err
	}

	chat, mirror, err := s.chats.CreatePair(ctx, requesterID, otherUserID)
	if err != nil {
		return dto.ChatPairResponse{}, err
	}

	return dto.ChatPairResponse{
		Chat:      dto.NewChatResponse(chat),
		OtherChat: dto.NewChatResponse(mirror),
	}, nil
}

func (s *chatService) List(ctx context.Context, requesterID uint) ([]dto.ChatResponse, error) {
	chats, err := s.chats.ListByUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	return dto.NewChatResponseSlice(chats), nil
}

func (s *chatService) History(ctx context.Context, requesterID uint, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, apperr.Invalid("invalid history query")
	}

	chat, err := s.resolveChat(ctx, query.ChatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != requesterID {
		return nil, apperr.PermissionDenied("not the chat owner")
	}

	copies, err := s.chats.ListCopies(ctx, chat.ID, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(copies), nil
}

func (s *chatService) Send(ctx context.Context, requesterID uint, req dto.SendChatMessageRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatMessageResponse{}, apperr.Invalid("chat_id and content are required")
	}

	chat, err := s.resolveChat(ctx, req.ChatID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	if requesterID != chat.UserID && requesterID != chat.OtherUserID {
		return dto.ChatMessageResponse{}, apperr.PermissionDenied("not a chat member")
	}

	message, err := s.messages.Create(ctx, requesterID, req.Content)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.fanout", trace.WithAttributes(
		attribute.Int64("chat.id", int64(chat.ID)),
		attribute.Int64("chat.sender_id", int64(requesterID)),
	))
	defer span.End()

	copy, _, err := s.chats.AttachMessage(spanCtx, chat.ID, message.ID, 0)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}
	copy.Message = message
	observability.MessagesFanned().WithLabelValues("chat").Inc()

	// Self-chat: one copy, no mirror, no notification.
	if chat.UserID == chat.OtherUserID {
		s.publisher.Publish(spanCtx, chat.UserID, realtime.Payload{
			Operation:   realtime.OpMessageCreated,
			Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, chat.ID)},
			ChatMessage: realtime.NewChatMessageRef(copy.ID, chat.ID, &message),
		})
		return dto.NewChatMessageResponse(copy), nil
	}

	s.publisher.Publish(spanCtx, chat.UserID, realtime.Payload{
		Operation:   realtime.OpMessageCreated,
		Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, chat.ID)},
		ChatMessage: realtime.NewChatMessageRef(copy.ID, chat.ID, &message),
	})

	// Chats are created in symmetric pairs; a missing mirror is a data
	// inconsistency. The sender's copy is already committed, so treat it
	// like any other partial fanout: log, count, return success.
	mirror, err := s.chats.FindMirror(spanCtx, chat.OtherUserID, chat.UserID)
	if err != nil {
		span.RecordError(err)
		observability.FanoutFailures().Inc()
		s.logger.Error().Err(err).
			Uint("chat_id", chat.ID).
			Uint("other_user_id", chat.OtherUserID).
			Msg("mirror chat missing, fanout incomplete")
		return dto.NewChatMessageResponse(copy), nil
	}

	mirrorCopy, notification, err := s.chats.AttachMessage(spanCtx, mirror.ID, message.ID, chat.OtherUserID)
	if err != nil {
		span.RecordError(err)
		observability.FanoutFailures().Inc()
		s.logger.Error().Err(err).
			Uint("mirror_chat_id", mirror.ID).
			Uint("receiver_id", chat.OtherUserID).
			Msg("mirror mailbox delivery failed, fanout incomplete")
		return dto.NewChatMessageResponse(copy), nil
	}
	observability.MessagesFanned().WithLabelValues("chat").Inc()

	s.publisher.Publish(spanCtx, chat.OtherUserID, realtime.Payload{
		Operation:   realtime.OpMessageCreated,
		Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, mirror.ID)},
		ChatMessage: realtime.NewChatMessageRef(mirrorCopy.ID, mirror.ID, &message),
	})
	if notification != nil {
		s.publisher.Publish(spanCtx, chat.OtherUserID, realtime.Payload{
			Operation:    realtime.OpNotificationCreated,
			Notification: realtime.NewNotificationRef(*notification, &message),
		})
	}

	return dto.NewChatMessageResponse(copy), nil
}

func (s *chatService) UpdateMessage(ctx context.Context, requesterID uint, req dto.UpdateChatMessageRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatMessageResponse{}, apperr.Invalid("chat_message_id and content are required")
	}

	copy, err := s.resolveCopy(ctx, req.ChatMessageID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	updated, err := s.messages.UpdateContent(ctx, copy.Message, requesterID, req.Content)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	copy.Message = updated

	// Content is shared: notify the owner of every mailbox holding a copy.
	holders, err := s.chats.CopiesOfMessage(ctx, updated.ID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	for _, holder := range holders {
		chat, err := s.chats.FindByID(ctx, holder.ChatID)
		if err != nil {
			s.logger.Warn().Err(err).Uint("chat_id", holder.ChatID).Msg("skipping update event for missing chat")
			continue
		}
		s.publisher.Publish(ctx, chat.UserID, realtime.Payload{
			Operation:   realtime.OpMessageUpdated,
			Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, chat.ID)},
			ChatMessage: realtime.NewChatMessageRef(holder.ID, chat.ID, &updated),
		})
	}

	return dto.NewChatMessageResponse(copy), nil
}

func (s *chatService) MarkMessageRead(ctx context.Context, requesterID uint, chatMessageID string) (dto.ChatMessageResponse, error) {
	copy, err := s.resolveCopy(ctx, chatMessageID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	chat, err := s.chats.FindByID(ctx, copy.ChatID)
	if err != nil {
		return dto.ChatMessageResponse{}, mapNotFound(err, "chat not found")
	}
	if chat.UserID != requesterID {
		return dto.ChatMessageResponse{}, apperr.PermissionDenied("not the chat owner")
	}

	message, err := s.messages.MarkRead(ctx, copy.MessageID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	copy.Message = message

	return dto.NewChatMessageResponse(copy), nil
}

func (s *chatService) Unsend(ctx context.Context, requesterID uint, chatMessageID string) error {
	copy, err := s.resolveCopy(ctx, chatMessageID)
	if err != nil {
		return err
	}

	if copy.Message.SenderID != requesterID {
		return apperr.PermissionDenied("only the sender can unsend a message")
	}

	entries, err := s.chats.Unsend(ctx, copy.MessageID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		s.publisher.Publish(ctx, entry.Chat.UserID, realtime.Payload{
			Operation:   realtime.OpMessageUnsent,
			Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, entry.Chat.ID)},
			ChatMessage: realtime.NewChatMessageRef(entry.CopyID, entry.Chat.ID, nil),
		})
	}

	return nil
}

func (s *chatService) DeleteForSelf(ctx context.Context, requesterID uint, chatMessageID string) error {
	copy, err := s.resolveCopy(ctx, chatMessageID)
	if err != nil {
		return err
	}

	chat, err := s.chats.FindByID(ctx, copy.ChatID)
	if err != nil {
		return mapNotFound(err, "chat not found")
	}
	if chat.UserID != requesterID {
		return apperr.PermissionDenied("not the chat owner")
	}

	updated, _, err := s.chats.DeleteCopy(ctx, copy.ID)
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, updated.UserID, realtime.Payload{
		Operation:   realtime.OpMessageDeleted,
		Chat:        &realtime.ChatRef{ID: gid.Encode(gid.KindChat, updated.ID)},
		ChatMessage: realtime.NewChatMessageRef(copy.ID, updated.ID, nil),
	})

	return nil
}

func (s *chatService) DeleteChat(ctx context.Context, requesterID uint, chatID string) error {
	chat, err := s.resolveChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.UserID != requesterID {
		return apperr.PermissionDenied("not the chat owner")
	}

	if err := s.chats.DeleteChatCopies(ctx, chat.ID); err != nil {
		return err
	}

	s.publisher.Publish(ctx, chat.UserID, realtime.Payload{
		Operation: realtime.OpChatDeleted,
		Chat:      &realtime.ChatRef{ID: gid.Encode(gid.KindChat, chat.ID)},
	})

	return nil
}

func (s *chatService) SetArchived(ctx context.Context, requesterID uint, req dto.ArchiveChatRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, apperr.Invalid("chat_id is required")
	}

	chat, err := s.resolveChat(ctx, req.ChatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if chat.UserID != requesterID {
		return dto.ChatResponse{}, apperr.PermissionDenied("not the chat owner")
	}

	updated, err := s.chats.SetArchived(ctx, chat.ID, req.Archived)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	return dto.NewChatResponse(updated), nil
}

func (s *chatService) resolveChat(ctx context.Context, chatID string) (models.Chat, error) {
	id, err := gid.Decode(gid.KindChat, chatID)
	if err != nil {
		return models.Chat{}, err
	}

	chat, err := s.chats.FindByID(ctx, id)
	if err != nil {
		return models.Chat{}, mapNotFound(err, "chat not found")
	}
	return chat, nil
}

func (s *chatService) resolveCopy(ctx context.Context, chatMessageID string) (models.ChatMessage, error) {
	id, err := gid.Decode(gid.KindChatMessage, chatMessageID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	copy, err := s.chats.FindCopy(ctx, id)
	if err != nil {
		return models.ChatMessage{}, mapNotFound(err, "chat message not found")
	}
	return copy, nil
}
