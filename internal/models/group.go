package models

import "time"

// UserGroup is the shared group record. MembersCount mirrors the live
// GroupMember row count and is maintained in the same transaction as every
// membership change.
type UserGroup struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"size:100;index;not null" json:"title"`
	Description  string    `gorm:"type:text" json:"description"`
	MembersCount int       `gorm:"not null;default:0" json:"members_count"`
	CreatedByID  uint      `gorm:"index;not null" json:"created_by_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupMember is one user's membership in a group.
type GroupMember struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	GroupID  uint      `gorm:"index:idx_group_member,unique;not null" json:"group_id"`
	MemberID uint      `gorm:"index:idx_group_member,unique;not null" json:"member_id"`
	IsAdmin  bool      `gorm:"not null;default:false" json:"is_admin"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// GroupMemberCopy is a member's private mailbox for one group: it owns that
// member's message copies and last-message pointer, so deleting or archiving
// here never touches any other member's view.
type GroupMemberCopy struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MembershipID  uint      `gorm:"uniqueIndex;not null" json:"membership_id"`
	IsArchived    bool      `gorm:"not null;default:false" json:"is_archived"`
	LastMessageID *uint     `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GroupMessage binds one Message into one member's group mailbox. A group
// send creates one row per live member, all referencing the same Message.
type GroupMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"index;not null" json:"message_id"`
	Message   Message   `gorm:"constraint:OnDelete:CASCADE" json:"message"`
	CopyID    uint      `gorm:"index;not null" json:"copy_id"`
	CreatedAt time.Time `json:"created_at"`
}
