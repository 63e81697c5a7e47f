package chat

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botforge/streamgate/internal/irc"
)

type fakeTokenSource struct {
	mu     sync.Mutex
	tokens []string
	calls  int
}

func (f *fakeTokenSource) GetValidToken(_ context.Context, _ uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := f.tokens[0]
	if len(f.tokens) > 1 {
		f.tokens = f.tokens[1:]
	}
	f.calls++
	return token, nil
}

// fakeServer is the far end of a net.Pipe with line-oriented helpers.
type fakeServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, reader: bufio.NewReader(conn)}
}

func (f *fakeServer) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := f.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func (f *fakeServer) writeLine(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, f.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := f.conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func (f *fakeServer) expectLogin(t *testing.T, token string) {
	t.Helper()
	assert.Equal(t, "CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership", f.readLine(t))
	assert.Equal(t, "PASS oauth:"+token, f.readLine(t))
	assert.Equal(t, "NICK streambot", f.readLine(t))
}

// pipeDialer hands out pre-built connections, one per dial.
type pipeDialer struct {
	mu    sync.Mutex
	conns []net.Conn
	dials atomic.Int32
}

func (p *pipeDialer) dial(_ context.Context, _ string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn := p.conns[0]
	if len(p.conns) > 1 {
		p.conns = p.conns[1:]
	}
	p.dials.Add(1)
	return conn, nil
}

func testConfig() Config {
	return Config{
		ServerAddr:     "chat.test:6697",
		Nick:           "StreamBot",
		AccountID:      uuid.New(),
		Channels:       []string{"TestChannel"},
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func startSession(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
	return cancel, done
}

func TestSessionLoginAndJoin(t *testing.T) {
	client, server := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client}}
	tokens := &fakeTokenSource{tokens: []string{"token-1"}}

	s := NewSession(testConfig(), tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv := newFakeServer(server)
	srv.expectLogin(t, "token-1")
	srv.writeLine(t, ":tmi.twitch.tv 001 streambot :Welcome, GLHF!")

	assert.Equal(t, "JOIN #testchannel", srv.readLine(t))
	assert.Eventually(t, func() bool { return s.State() == StateReady }, time.Second, 5*time.Millisecond)
}

func TestSessionPongBeforeQueuedWrites(t *testing.T) {
	client, server := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client}}
	tokens := &fakeTokenSource{tokens: []string{"token-1"}}

	cfg := testConfig()
	cfg.Channels = nil
	s := NewSession(cfg, tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv := newFakeServer(server)
	srv.expectLogin(t, "token-1")

	// Pipe writes are synchronous: the writer blocks on the first message
	// until we read it, so the rest of the queue is still pending when the
	// keepalive arrives.
	require.NoError(t, s.SendMessage("chan", "first"))
	require.NoError(t, s.SendMessage("chan", "second"))
	require.NoError(t, s.SendMessage("chan", "third"))

	// Let the writer dequeue the first message and block on its write.
	time.Sleep(50 * time.Millisecond)
	srv.writeLine(t, "PING :tmi.twitch.tv")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "PRIVMSG #chan :first", srv.readLine(t))
	assert.Equal(t, "PONG :tmi.twitch.tv", srv.readLine(t))
	assert.Equal(t, "PRIVMSG #chan :second", srv.readLine(t))
	assert.Equal(t, "PRIVMSG #chan :third", srv.readLine(t))
}

func TestSessionReconnectUsesCurrentToken(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client1, client2}}
	tokens := &fakeTokenSource{tokens: []string{"old-token", "new-token"}}

	cfg := testConfig()
	cfg.Channels = nil
	s := NewSession(cfg, tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv1 := newFakeServer(server1)
	srv1.expectLogin(t, "old-token")

	// Simulate a credential rotation followed by an explicit disconnect.
	s.Disconnect()

	srv2 := newFakeServer(server2)
	srv2.expectLogin(t, "new-token")
	assert.Equal(t, int32(2), dialer.dials.Load())
}

func TestSessionReconnectsAfterServerClose(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client1, client2}}
	tokens := &fakeTokenSource{tokens: []string{"token-1"}}

	cfg := testConfig()
	cfg.Channels = nil
	s := NewSession(cfg, tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv1 := newFakeServer(server1)
	srv1.expectLogin(t, "token-1")
	require.NoError(t, server1.Close())

	srv2 := newFakeServer(server2)
	srv2.expectLogin(t, "token-1")
}

func TestSessionSkipsMalformedLines(t *testing.T) {
	client, server := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client}}
	tokens := &fakeTokenSource{tokens: []string{"token-1"}}

	received := make(chan *irc.Message, 8)
	handler := func(msg *irc.Message) { received <- msg }

	cfg := testConfig()
	cfg.Channels = nil
	s := NewSession(cfg, tokens, handler, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv := newFakeServer(server)
	srv.expectLogin(t, "token-1")

	srv.writeLine(t, "@badtag")
	srv.writeLine(t, ":foo!foo@foo.tmi.twitch.tv PRIVMSG #bar :hello world")

	select {
	case msg := <-received:
		assert.Equal(t, "PRIVMSG", msg.Command)
		assert.Equal(t, "hello world", msg.Trailing())
	case <-time.After(time.Second):
		t.Fatal("parsed message never delivered")
	}
}

func TestSessionHandlesServerReconnectCommand(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client1, client2}}
	tokens := &fakeTokenSource{tokens: []string{"token-1"}}

	cfg := testConfig()
	cfg.Channels = nil
	s := NewSession(cfg, tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv1 := newFakeServer(server1)
	srv1.expectLogin(t, "token-1")
	srv1.writeLine(t, ":tmi.twitch.tv RECONNECT")

	srv2 := newFakeServer(server2)
	srv2.expectLogin(t, "token-1")
}

func TestSessionDisconnectBypassesFullSendQueue(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	dialer := &pipeDialer{conns: []net.Conn{client1, client2}}
	tokens := &fakeTokenSource{tokens: []string{"token-1", "token-2"}}

	s := NewSession(testConfig(), tokens, nil, clockwork.NewRealClock())
	s.SetDialer(dialer.dial)
	startSession(t, s)

	srv1 := newFakeServer(server1)
	srv1.expectLogin(t, "token-1")
	srv1.writeLine(t, ":tmi.twitch.tv 001 streambot :Welcome, GLHF!")
	assert.Equal(t, "JOIN #testchannel", srv1.readLine(t))
	assert.Eventually(t, func() bool { return s.State() == StateReady }, time.Second, 5*time.Millisecond)

	// Saturate the send queue; the writer is stuck on its first write
	// because nobody is reading the pipe.
	full := false
	for i := 0; i < 2*commandQueueSize+2; i++ {
		if err := s.SendMessage("#testchannel", "spam"); err != nil {
			full = true
			break
		}
	}
	require.True(t, full, "send queue never filled")

	s.Disconnect()

	// Unblock the in-flight write; the disconnect must preempt the
	// queued backlog instead of waiting behind it.
	go func() { _, _ = io.Copy(io.Discard, server1) }()

	assert.Eventually(t, func() bool { return dialer.dials.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	srv2 := newFakeServer(server2)
	srv2.expectLogin(t, "token-2")
}

func TestNormalizeChannel(t *testing.T) {
	assert.Equal(t, "#foo", normalizeChannel("foo"))
	assert.Equal(t, "#foo", normalizeChannel("#Foo"))
	assert.Equal(t, "#bar", normalizeChannel("  BAR "))
}
