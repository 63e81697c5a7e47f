package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/irc"
)

func TestFromChatMessageNormalizesPrivmsg(t *testing.T) {
	msg, err := irc.ParseMessage("@id=abc-123;display-name=Foo :foo!foo@foo.tmi.twitch.tv PRIVMSG #bar :hello world")
	require.NoError(t, err)

	now := time.Now()
	evt, ok := FromChatMessage(msg, now)
	require.True(t, ok)

	assert.Equal(t, EventTypeChatMessage, evt.Type)
	assert.Equal(t, domain.SourceChat, evt.Source)
	assert.Equal(t, "chat.message:abc-123", evt.DedupKey)
	assert.Equal(t, now, evt.ReceivedAt)

	var payload chatMessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "#bar", payload.Channel)
	assert.Equal(t, "foo", payload.Login)
	assert.Equal(t, "hello world", payload.Text)
	assert.Equal(t, "Foo", payload.Tags["display-name"])
}

func TestFromChatMessageIgnoresNonPrivmsg(t *testing.T) {
	for _, line := range []string{
		"PING :tmi.twitch.tv",
		":tmi.twitch.tv 001 nick :Welcome",
		":foo!foo@foo.tmi.twitch.tv JOIN #bar",
	} {
		msg, err := irc.ParseMessage(line)
		require.NoError(t, err)
		_, ok := FromChatMessage(msg, time.Now())
		assert.False(t, ok, line)
	}
}

func TestFromChatMessageDigestFallbackWithoutIDTag(t *testing.T) {
	msg, err := irc.ParseMessage(":foo!foo@foo.tmi.twitch.tv PRIVMSG #bar :no id tag")
	require.NoError(t, err)

	evt, ok := FromChatMessage(msg, time.Now())
	require.True(t, ok)
	assert.Contains(t, evt.DedupKey, "chat.message:sha256:")

	// Same raw line collapses to the same key.
	again, _ := FromChatMessage(msg, time.Now())
	assert.Equal(t, evt.DedupKey, again.DedupKey)
}
