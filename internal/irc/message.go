// Package irc implements the line-oriented, tag-augmented chat wire format:
// parsing of inbound lines and serialization of outbound commands.
package irc

import (
	"strings"

	"github.com/botforge/streamgate/internal/errors"
)

// Message is a single parsed chat line. Immutable once parsed.
type Message struct {
	Raw     string
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string

	// HasTrailing records that the last parameter was introduced by the
	// trailing marker, so serializing the message reproduces it even when
	// the parameter is a single word. `PING :host` must answer `PONG :host`.
	HasTrailing bool
}

// ParseMessage parses a raw line into its tag map, prefix, command, and
// parameter list. The trailing parameter (introduced by " :") may contain
// spaces and is returned as a single element with the marker stripped.
func ParseMessage(line string) (*Message, error) {
	raw := line
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.ProtocolError("empty line", nil)
	}

	msg := &Message{Raw: raw}

	if strings.HasPrefix(line, "@") {
		tagEnd := strings.Index(line, " ")
		if tagEnd == -1 {
			return nil, errors.ProtocolError("line contains only tags", nil)
		}
		msg.Tags = parseTags(line[1:tagEnd])
		line = strings.TrimLeft(line[tagEnd+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		prefixEnd := strings.Index(line, " ")
		if prefixEnd == -1 {
			return nil, errors.ProtocolError("line contains only a prefix", nil)
		}
		msg.Prefix = line[1:prefixEnd]
		line = strings.TrimLeft(line[prefixEnd+1:], " ")
	}

	if line == "" {
		return nil, errors.ProtocolError("line has no command", nil)
	}

	// Command token, then parameters up to the trailing marker.
	for line != "" {
		if msg.Command != "" && strings.HasPrefix(line, ":") {
			msg.Params = append(msg.Params, line[1:])
			msg.HasTrailing = true
			break
		}

		token := line
		if idx := strings.Index(line, " "); idx != -1 {
			token = line[:idx]
			line = strings.TrimLeft(line[idx+1:], " ")
		} else {
			line = ""
		}

		if msg.Command == "" {
			msg.Command = strings.ToUpper(token)
		} else {
			msg.Params = append(msg.Params, token)
		}
	}

	return msg, nil
}

func parseTags(segment string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(segment, ";") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			tags[key] = ""
			continue
		}
		tags[key] = unescapeTagValue(value)
	}
	return tags
}

// unescapeTagValue reverses IRCv3 tag value escaping.
func unescapeTagValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))
	escaped := false
	for _, r := range value {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteRune(r)
		}
		escaped = false
	}
	return b.String()
}

// Trailing returns the last parameter, or "" if there are none.
func (m *Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Tag returns the tag value for key, or "" if absent.
func (m *Message) Tag(key string) string {
	return m.Tags[key]
}

// String serializes the command and parameters back to wire form. The
// trailing marker is emitted when HasTrailing is set, or when the last
// parameter could not survive the round trip without it (empty, contains
// a space, or starts with the marker itself). Tags and prefix are not
// emitted; outgoing client lines carry neither.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Command)
	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (m.HasTrailing || p == "" || strings.Contains(p, " ") || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
