package dto

import (
	"time"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// NotificationResponse is one unread-marker row with its message.
type NotificationResponse struct {
	ID         string          `json:"id"`
	ReceiverID string          `json:"receiver_id"`
	IsRead     bool            `json:"is_read"`
	Message    MessageResponse `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewNotificationResponse maps a notification model to its response shape.
func NewNotificationResponse(notification models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         gid.Encode(gid.KindNotification, notification.ID),
		ReceiverID: gid.Encode(gid.KindUser, notification.ReceiverID),
		IsRead:     notification.IsRead,
		Message:    NewMessageResponse(notification.Message),
		CreatedAt:  notification.CreatedAt,
	}
}

// NewNotificationResponseSlice maps a page of notifications.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	responses := make([]NotificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		responses = append(responses, NewNotificationResponse(notification))
	}
	return responses
}
