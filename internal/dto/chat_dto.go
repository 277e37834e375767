package dto

import (
	"time"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// CreateChatRequest opens a symmetric direct-chat pair with another user.
type CreateChatRequest struct {
	OtherUserID string `json:"other_user_id" validate:"required"`
}

// SendChatMessageRequest posts a message into a direct chat.
type SendChatMessageRequest struct {
	ChatID  string `json:"chat_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// UpdateChatMessageRequest rewrites a sent message's content in place.
type UpdateChatMessageRequest struct {
	ChatMessageID string `json:"chat_message_id" validate:"required"`
	Content       string `json:"content" validate:"required"`
}

// ArchiveChatRequest flips the owner-private archived flag.
type ArchiveChatRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	Archived bool   `json:"archived"`
}

// ChatHistoryQuery pages through one mailbox's message copies.
type ChatHistoryQuery struct {
	ChatID string `json:"chat_id" validate:"required"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `json:"offset" validate:"omitempty,min=0"`
}

// MessageResponse is the canonical message as seen by clients.
type MessageResponse struct {
	ID        string     `json:"id"`
	SenderID  string     `json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// ChatResponse is one user's view of a direct conversation.
type ChatResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	OtherUserID   string    `json:"other_user_id"`
	Archived      bool      `json:"archived"`
	LastMessageID *string   `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChatPairResponse returns both sides of a freshly created conversation.
type ChatPairResponse struct {
	Chat      ChatResponse `json:"chat"`
	OtherChat ChatResponse `json:"other_chat"`
}

// ChatMessageResponse is one mailbox copy with its message.
type ChatMessageResponse struct {
	ID      string          `json:"id"`
	ChatID  string          `json:"chat_id"`
	Message MessageResponse `json:"message"`
}

// NewMessageResponse maps a message model to its response shape.
func NewMessageResponse(message models.Message) MessageResponse {
	return MessageResponse{
		ID:        gid.Encode(gid.KindMessage, message.ID),
		SenderID:  gid.Encode(gid.KindUser, message.SenderID),
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
		ReadAt:    message.ReadAt,
	}
}

// NewChatResponse maps a chat model to its response shape.
func NewChatResponse(chat models.Chat) ChatResponse {
	response := ChatResponse{
		ID:          gid.Encode(gid.KindChat, chat.ID),
		UserID:      gid.Encode(gid.KindUser, chat.UserID),
		OtherUserID: gid.Encode(gid.KindUser, chat.OtherUserID),
		Archived:    chat.Archived,
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
	}
	if chat.LastMessageID != nil {
		encoded := gid.Encode(gid.KindChatMessage, *chat.LastMessageID)
		response.LastMessageID = &encoded
	}
	return response
}

// NewChatMessageResponse maps a mailbox copy to its response shape.
func NewChatMessageResponse(copy models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:      gid.Encode(gid.KindChatMessage, copy.ID),
		ChatID:  gid.Encode(gid.KindChat, copy.ChatID),
		Message: NewMessageResponse(copy.Message),
	}
}

// NewChatMessageResponseSlice maps a page of mailbox copies.
func NewChatMessageResponseSlice(copies []models.ChatMessage) []ChatMessageResponse {
	responses := make([]ChatMessageResponse, 0, len(copies))
	for _, copy := range copies {
		responses = append(responses, NewChatMessageResponse(copy))
	}
	return responses
}

// NewChatResponseSlice maps a user's chat list.
func NewChatResponseSlice(chats []models.Chat) []ChatResponse {
	responses := make([]ChatResponse, 0, len(chats))
	for _, chat := range chats {
		responses = append(responses, NewChatResponse(chat))
	}
	return responses
}
