package models

import "time"

// Message is the canonical message record shared by every mailbox copy.
// Content is sanitized before it reaches this struct and may only be
// rewritten by its sender.
type Message struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SenderID  uint       `gorm:"index;not null" json:"sender_id"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	ReadAt    *time.Time `gorm:"index" json:"read_at"`
}

// Notification records an unread marker for one (message, recipient) pair.
// Senders never get notifications for their own messages.
type Notification struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  uint      `gorm:"index;not null" json:"message_id"`
	Message    Message   `gorm:"constraint:OnDelete:CASCADE" json:"message"`
	ReceiverID uint      `gorm:"index;not null" json:"receiver_id"`
	IsRead     bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}
