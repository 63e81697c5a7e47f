package eventsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupKeyUsesProviderEventID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "message_id preferred",
			payload: `{"message_id":"m-1","id":"i-1"}`,
			want:    "channel.chat.message:m-1",
		},
		{
			name:    "id as fallback field",
			payload: `{"id":"i-1","user_id":"7"}`,
			want:    "channel.chat.message:i-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupKey("channel.chat.message", json.RawMessage(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDedupKeyPayloadDigestFallback(t *testing.T) {
	a := dedupKey("stream.online", json.RawMessage(`{"broadcaster_user_id":"42"}`))
	b := dedupKey("stream.online", json.RawMessage(`{"broadcaster_user_id":"42"}`))
	c := dedupKey("stream.online", json.RawMessage(`{"broadcaster_user_id":"43"}`))

	assert.Equal(t, a, b, "identical payloads must collapse")
	assert.NotEqual(t, a, c, "distinct payloads must not collide")
	assert.Contains(t, a, "stream.online:sha256:")
}

func TestDedupKeySameIDDifferentTypeDistinct(t *testing.T) {
	a := dedupKey("channel.follow", json.RawMessage(`{"id":"x"}`))
	b := dedupKey("channel.subscribe", json.RawMessage(`{"id":"x"}`))
	assert.NotEqual(t, a, b)
}
