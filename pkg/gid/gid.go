package gid

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/buddychat/buddychat-api/pkg/apperr"
)

// Kind names an addressable entity type on the wire.
type Kind string

const (
	KindChat          Kind = "Chat"
	KindChatMessage   Kind = "ChatMessage"
	KindMessage       Kind = "Message"
	KindGroup         Kind = "Group"
	KindGroupMember   Kind = "GroupMember"
	KindGroupCopy     Kind = "GroupCopy"
	KindGroupMessage  Kind = "GroupMessage"
	KindNotification  Kind = "Notification"
	KindUser          Kind = "User"
)

// Encode builds the opaque global id clients hold across refactors.
func Encode(kind Kind, id uint) string {
	raw := fmt.Sprintf("%s:%d", kind, id)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Decode resolves a global id back into its local id, verifying the kind.
// Ids arriving through URL paths may be percent-escaped or use the URL-safe
// base64 alphabet; both are accepted.
func Decode(kind Kind, value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if unescaped, err := url.PathUnescape(trimmed); err == nil {
		trimmed = unescaped
	}

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(trimmed)
	}
	if err != nil {
		return 0, apperr.Invalid("malformed id")
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, apperr.Invalid("malformed id")
	}
	if Kind(parts[0]) != kind {
		return 0, apperr.Invalid(fmt.Sprintf("expected %s id", kind))
	}

	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("malformed id")
	}

	return uint(id), nil
}
