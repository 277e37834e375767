package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buddychat/buddychat-api/internal/models"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

func TestEventWireShape(t *testing.T) {
	message := models.Message{ID: 11, SenderID: 7, Content: "hello", CreatedAt: time.Now().UTC()}
	event := Event{
		Type: TypeNext,
		ID:   "1",
		Payload: &Payload{
			Operation:   OpMessageCreated,
			Chat:        &ChatRef{ID: gid.Encode(gid.KindChat, 3)},
			ChatMessage: NewChatMessageRef(5, 3, &message),
		},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "next", decoded["type"])
	require.Equal(t, "1", decoded["id"])

	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "MESSAGE_CREATED", payload["operation"])
	require.Contains(t, payload, "chat")
	require.Contains(t, payload, "chatMessage")
	require.NotContains(t, payload, "groupMessage", "irrelevant entity keys stay absent")
	require.NotContains(t, payload, "notification")

	chatMessage, ok := payload["chatMessage"].(map[string]interface{})
	require.True(t, ok)
	inner, ok := chatMessage["message"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "hello", inner["content"])
}

func TestEventRefsCarryDecodableIDs(t *testing.T) {
	message := models.Message{ID: 11, SenderID: 7, Content: "hi", CreatedAt: time.Now().UTC()}

	ref := NewChatMessageRef(5, 3, &message)
	copyID, err := gid.Decode(gid.KindChatMessage, ref.ID)
	require.NoError(t, err)
	require.Equal(t, uint(5), copyID)
	chatID, err := gid.Decode(gid.KindChat, ref.ChatID)
	require.NoError(t, err)
	require.Equal(t, uint(3), chatID)

	groupRef := NewGroupMessageRef(8, 4, nil)
	require.Nil(t, groupRef.Message, "deletion events omit the message body")
	messageCopyID, err := gid.Decode(gid.KindGroupMessage, groupRef.ID)
	require.NoError(t, err)
	require.Equal(t, uint(8), messageCopyID)

	memberRef := NewMemberRef(models.GroupMember{ID: 2, GroupID: 6, MemberID: 9})
	memberID, err := gid.Decode(gid.KindUser, memberRef.MemberID)
	require.NoError(t, err)
	require.Equal(t, uint(9), memberID)

	noteRef := NewNotificationRef(models.Notification{ID: 12}, &message)
	noteID, err := gid.Decode(gid.KindNotification, noteRef.ID)
	require.NoError(t, err)
	require.Equal(t, uint(12), noteID)
	require.Equal(t, "hi", noteRef.Message.Content)
}

func TestConnectionAckOmitsPayload(t *testing.T) {
	data, err := json.Marshal(Event{Type: TypeConnectionAck})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "connection_ack", decoded["type"])
	require.NotContains(t, decoded, "payload")
	require.NotContains(t, decoded, "id")
}
