package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_TaggedPrivmsg(t *testing.T) {
	msg, err := ParseMessage("@badge-info=;display-name=Foo :foo!foo@foo.tmi.twitch.tv PRIVMSG #bar :hello world")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"badge-info": "", "display-name": "Foo"}, msg.Tags)
	assert.Equal(t, "foo!foo@foo.tmi.twitch.tv", msg.Prefix)
	assert.Equal(t, "PRIVMSG", msg.Command)
	assert.Equal(t, []string{"#bar", "hello world"}, msg.Params)
}

func TestParseMessage_Ping(t *testing.T) {
	msg, err := ParseMessage("PING :tmi.twitch.tv")
	require.NoError(t, err)

	assert.Empty(t, msg.Prefix)
	assert.Equal(t, "PING", msg.Command)
	assert.Equal(t, []string{"tmi.twitch.tv"}, msg.Params)
	assert.Equal(t, "tmi.twitch.tv", msg.Trailing())
}

func TestParseMessage_NoTrailing(t *testing.T) {
	msg, err := ParseMessage(":bot!bot@bot.tmi.twitch.tv JOIN #channel")
	require.NoError(t, err)

	assert.Equal(t, "JOIN", msg.Command)
	assert.Equal(t, []string{"#channel"}, msg.Params)
}

func TestParseMessage_MultipleMiddleParams(t *testing.T) {
	msg, err := ParseMessage(":tmi.twitch.tv 353 bot = #channel :bot other")
	require.NoError(t, err)

	assert.Equal(t, "353", msg.Command)
	assert.Equal(t, []string{"bot", "=", "#channel", "bot other"}, msg.Params)
}

func TestParseMessage_CommandLowercased(t *testing.T) {
	msg, err := ParseMessage("ping :token")
	require.NoError(t, err)
	assert.Equal(t, "PING", msg.Command)
}

func TestParseMessage_StripsLineEndings(t *testing.T) {
	msg, err := ParseMessage("PONG :token\r\n")
	require.NoError(t, err)
	assert.Equal(t, "token", msg.Trailing())
}

func TestParseMessage_TagValueUnescaping(t *testing.T) {
	msg, err := ParseMessage(`@system-msg=hello\sworld\:\\again PING :x`)
	require.NoError(t, err)
	assert.Equal(t, `hello world;\again`, msg.Tag("system-msg"))
}

func TestParseMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"only newline", "\r\n"},
		{"only tags", "@foo=bar"},
		{"only prefix", ":tmi.twitch.tv"},
		{"prefix without command", ":tmi.twitch.tv "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.line)
			assert.Error(t, err)
		})
	}
}

func TestMessage_String(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"pong", Message{Command: "PONG", Params: []string{"tmi.twitch.tv"}, HasTrailing: true}, "PONG :tmi.twitch.tv"},
		{"join", Message{Command: "JOIN", Params: []string{"#chan"}}, "JOIN #chan"},
		{"single-word trailing", Message{Command: "PRIVMSG", Params: []string{"#chan", "hi"}, HasTrailing: true}, "PRIVMSG #chan :hi"},
		{"middle param untouched", Message{Command: "MODE", Params: []string{"#chan", "+o"}}, "MODE #chan +o"},
		{"privmsg with spaces", Message{Command: "PRIVMSG", Params: []string{"#chan", "hello there"}}, "PRIVMSG #chan :hello there"},
		{"empty trailing", Message{Command: "PRIVMSG", Params: []string{"#chan", ""}}, "PRIVMSG #chan :"},
		{"trailing starting with colon", Message{Command: "PRIVMSG", Params: []string{"#chan", ":)"}}, "PRIVMSG #chan ::)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.String())
		})
	}
}

func TestParseMessage_RoundTrip(t *testing.T) {
	lines := []string{
		"PRIVMSG #chan :hello world",
		"PRIVMSG #chan :hi",
		"PING :tmi.twitch.tv",
	}
	for _, line := range lines {
		msg, err := ParseMessage(line)
		require.NoError(t, err)
		assert.Equal(t, line, msg.String())
	}
}
