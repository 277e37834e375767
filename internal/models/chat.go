package models

import "time"

// Chat is one user's private view of a direct conversation. A conversation
// between two distinct users is two Chat rows, one per side, each with its
// own archived flag, copies, and last-message pointer. A self-chat is a
// single row with UserID == OtherUserID.
type Chat struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index:idx_chat_pair,unique;not null" json:"user_id"`
	OtherUserID   uint      `gorm:"index:idx_chat_pair,unique;not null" json:"other_user_id"`
	Archived      bool      `gorm:"not null;default:false;index" json:"archived"`
	LastMessageID *uint     `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChatMessage binds one Message into one Chat mailbox. Up to two copies may
// reference the same Message, one per side of the conversation. Deleting a
// copy never deletes the Message while another copy still references it.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    uint      `gorm:"index;not null" json:"chat_id"`
	MessageID uint      `gorm:"index;not null" json:"message_id"`
	Message   Message   `gorm:"constraint:OnDelete:CASCADE" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
