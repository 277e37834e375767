package realtime

import (
	"time"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// Operation tags the kind of change an event describes.
type Operation string

const (
	OpMessageCreated        Operation = "MESSAGE_CREATED"
	OpMessageUpdated        Operation = "MESSAGE_UPDATED"
	OpMessageDeleted        Operation = "MESSAGE_DELETED"
	OpMessageUnsent         Operation = "MESSAGE_UNSENT"
	OpNotificationCreated   Operation = "NOTIFICATION_CREATED"
	OpChatDeleted           Operation = "CHAT_DELETED"
	OpGroupUpdated          Operation = "GROUP_UPDATED"
	OpGroupRemoved          Operation = "GROUP_PERMANENTLY_REMOVED"
	OpMemberAdded           Operation = "MEMBER_ADDED"
	OpMemberRemoved         Operation = "MEMBER_REMOVED"
	OpMemberLeft            Operation = "MEMBER_LEFT"
)

// Wire-level message types, mirroring the graphql-ws framing clients expect.
const (
	TypeNext          = "next"
	TypeConnectionAck = "connection_ack"
	TypeComplete      = "complete"
)

// Event is the envelope written to a live connection.
type Event struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
}

// Payload carries the operation tag plus the affected entity references.
// Exactly the keys relevant to the operation are populated.
type Payload struct {
	Operation    Operation        `json:"operation"`
	Chat         *ChatRef         `json:"chat,omitempty"`
	ChatMessage  *ChatMessageRef  `json:"chatMessage,omitempty"`
	Group        *GroupRef        `json:"group,omitempty"`
	GroupCopy    *GroupCopyRef    `json:"groupCopy,omitempty"`
	GroupMessage *GroupMessageRef `json:"groupMessage,omitempty"`
	Member       *MemberRef       `json:"member,omitempty"`
	Message      *MessageRef      `json:"message,omitempty"`
	Notification *NotificationRef `json:"notification,omitempty"`
}

// MessageRef denormalizes the fields clients render without a refetch.
type MessageRef struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatRef struct {
	ID string `json:"id"`
}

type ChatMessageRef struct {
	ID      string      `json:"id"`
	ChatID  string      `json:"chatId"`
	Message *MessageRef `json:"message,omitempty"`
}

type GroupRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type GroupCopyRef struct {
	ID string `json:"id"`
}

type GroupMessageRef struct {
	ID      string      `json:"id"`
	CopyID  string      `json:"copyId"`
	Message *MessageRef `json:"message,omitempty"`
}

type MemberRef struct {
	ID       string `json:"id"`
	GroupID  string `json:"groupId"`
	MemberID string `json:"memberId"`
}

type NotificationRef struct {
	ID      string      `json:"id"`
	Message *MessageRef `json:"message,omitempty"`
}

// NewMessageRef builds the denormalized view of a message.
func NewMessageRef(message models.Message) *MessageRef {
	return &MessageRef{
		ID:        gid.Encode(gid.KindMessage, message.ID),
		SenderID:  gid.Encode(gid.KindUser, message.SenderID),
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
}

// NewChatMessageRef builds a reference to one mailbox copy of a message.
func NewChatMessageRef(copyID, chatID uint, message *models.Message) *ChatMessageRef {
	ref := &ChatMessageRef{
		ID:     gid.Encode(gid.KindChatMessage, copyID),
		ChatID: gid.Encode(gid.KindChat, chatID),
	}
	if message != nil {
		ref.Message = NewMessageRef(*message)
	}
	return ref
}

// NewGroupMessageRef builds a reference to one group mailbox copy of a message.
func NewGroupMessageRef(messageCopyID, mailboxID uint, message *models.Message) *GroupMessageRef {
	ref := &GroupMessageRef{
		ID:     gid.Encode(gid.KindGroupMessage, messageCopyID),
		CopyID: gid.Encode(gid.KindGroupCopy, mailboxID),
	}
	if message != nil {
		ref.Message = NewMessageRef(*message)
	}
	return ref
}

// NewNotificationRef builds a reference to a freshly created notification.
func NewNotificationRef(notification models.Notification, message *models.Message) *NotificationRef {
	ref := &NotificationRef{
		ID: gid.Encode(gid.KindNotification, notification.ID),
	}
	if message != nil {
		ref.Message = NewMessageRef(*message)
	}
	return ref
}

// NewMemberRef builds a reference to a group membership.
func NewMemberRef(membership models.GroupMember) *MemberRef {
	return &MemberRef{
		ID:       gid.Encode(gid.KindGroupMember, membership.ID),
		GroupID:  gid.Encode(gid.KindGroup, membership.GroupID),
		MemberID: gid.Encode(gid.KindUser, membership.MemberID),
	}
}
