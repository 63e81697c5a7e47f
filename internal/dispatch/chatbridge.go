package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/irc"
)

// EventTypeChatMessage is the normalized type for inbound chat messages,
// keeping chat-sourced events in the same namespace as provider ones.
const EventTypeChatMessage = "chat.message"

// chatMessagePayload is the normalized shape published for chat messages.
type chatMessagePayload struct {
	Channel string            `json:"channel"`
	Login   string            `json:"login"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// FromChatMessage normalizes an inbound chat line into a raw event.
// Only PRIVMSG lines produce one; everything else reports false.
func FromChatMessage(msg *irc.Message, now time.Time) (domain.RawEvent, bool) {
	if msg == nil || msg.Command != "PRIVMSG" || len(msg.Params) < 2 {
		return domain.RawEvent{}, false
	}

	payload, err := json.Marshal(chatMessagePayload{
		Channel: msg.Params[0],
		Login:   loginFromPrefix(msg.Prefix),
		Text:    msg.Trailing(),
		Tags:    msg.Tags,
	})
	if err != nil {
		return domain.RawEvent{}, false
	}

	return domain.RawEvent{
		DedupKey:   chatDedupKey(msg),
		Type:       EventTypeChatMessage,
		Source:     domain.SourceChat,
		Payload:    payload,
		ReceivedAt: now,
	}, true
}

// chatDedupKey prefers the server-assigned message ID tag; lines without
// one fall back to a digest of the raw line.
func chatDedupKey(msg *irc.Message) string {
	if id := msg.Tag("id"); id != "" {
		return EventTypeChatMessage + ":" + id
	}
	sum := sha256.Sum256([]byte(msg.Raw))
	return EventTypeChatMessage + ":sha256:" + hex.EncodeToString(sum[:])
}

// loginFromPrefix extracts the sender login from "login!user@host".
func loginFromPrefix(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}
