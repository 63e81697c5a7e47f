// Package chat maintains the authenticated IRC-style chat connection:
// login, channel membership, keepalive, a serialized writer, and a
// supervising reconnect loop.
package chat

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/botforge/streamgate/internal/irc"
	"github.com/botforge/streamgate/internal/metrics"
	"github.com/botforge/streamgate/internal/platform/correlation"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateJoining
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

const (
	commandQueueSize = 64
	pongQueueSize    = 8
	readTimeout      = 6 * time.Minute // server pings roughly every 5 minutes

	// Outbound message budget: 20 messages per 30 seconds.
	messageRatePer30s = 20
)

// TokenSource supplies the current access token; the session asks on every
// connection attempt so rotated credentials are honored without a restart.
type TokenSource interface {
	GetValidToken(ctx context.Context, accountID uuid.UUID) (string, error)
}

// Dialer opens the raw transport. Overridable for tests.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func tlsDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
	return d.DialContext(ctx, "tcp", addr)
}

// Handler receives every successfully parsed inbound line.
type Handler func(msg *irc.Message)

// sessionCmd is an outgoing intent consumed by the single writer goroutine.
type sessionCmd interface{ isSessionCmd() }

type baseSessionCmd struct{}

func (baseSessionCmd) isSessionCmd() {}

type sendCmd struct {
	baseSessionCmd
	channel string
	text    string
}

type joinCmd struct {
	baseSessionCmd
	channel string
}

type partCmd struct {
	baseSessionCmd
	channel string
}

// Config holds the session's connection settings.
type Config struct {
	ServerAddr     string
	Nick           string
	AccountID      uuid.UUID
	Channels       []string
	ReconnectDelay time.Duration
}

// Session is a single logical chat connection. At most one live socket
// exists at a time; the whole connection is recreated on any error.
type Session struct {
	cfg     Config
	tokens  TokenSource
	dialer  Dialer
	handler Handler
	clock   clockwork.Clock
	limiter *rate.Limiter

	cmdCh        chan sessionCmd
	pongCh       chan string
	disconnectCh chan struct{}

	state atomic.Int32

	mu       sync.Mutex
	channels map[string]struct{}
}

func NewSession(cfg Config, tokens TokenSource, handler Handler, clock clockwork.Clock) *Session {
	s := &Session{
		cfg:          cfg,
		tokens:       tokens,
		dialer:       tlsDialer,
		handler:      handler,
		clock:        clock,
		limiter:      rate.NewLimiter(rate.Limit(messageRatePer30s/30.0), messageRatePer30s),
		cmdCh:        make(chan sessionCmd, commandQueueSize),
		pongCh:       make(chan string, pongQueueSize),
		disconnectCh: make(chan struct{}, 1),
		channels:     make(map[string]struct{}),
	}
	for _, ch := range cfg.Channels {
		s.channels[normalizeChannel(ch)] = struct{}{}
	}
	return s
}

// SetDialer overrides the transport dialer (tests).
func (s *Session) SetDialer(d Dialer) { s.dialer = d }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// SendMessage enqueues a PRIVMSG. Non-blocking; reports an error when the
// outgoing queue is full rather than stalling the caller.
func (s *Session) SendMessage(channel, text string) error {
	select {
	case s.cmdCh <- sendCmd{channel: normalizeChannel(channel), text: text}:
		return nil
	default:
		return fmt.Errorf("chat send queue full, dropping message for %s", channel)
	}
}

// JoinChannel enqueues a JOIN and remembers the channel for reconnects.
func (s *Session) JoinChannel(channel string) error {
	channel = normalizeChannel(channel)
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()

	select {
	case s.cmdCh <- joinCmd{channel: channel}:
		return nil
	default:
		return fmt.Errorf("chat command queue full, join of %s deferred to next reconnect", channel)
	}
}

// PartChannel enqueues a PART and forgets the channel.
func (s *Session) PartChannel(channel string) error {
	channel = normalizeChannel(channel)
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()

	select {
	case s.cmdCh <- partCmd{channel: channel}:
		return nil
	default:
		return fmt.Errorf("chat command queue full, part of %s dropped", channel)
	}
}

// Disconnect forces the active socket closed. The supervising loop then
// redials with whatever credential is current, so callers use this after
// a known credential change. The signal has its own lane: a backlog of
// queued sends can never swallow it.
func (s *Session) Disconnect() {
	select {
	case s.disconnectCh <- struct{}{}:
	default:
		// A disconnect is already pending; a second adds nothing.
	}
}

// Run supervises the connection until ctx is cancelled, redialing after a
// fixed delay on every failure.
func (s *Session) Run(ctx context.Context) error {
	for {
		// Each connection attempt gets its own correlation ID.
		err := s.runOnce(correlation.WithID(ctx, correlation.NewID()))
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.ChatReconnectsTotal.WithLabelValues("retry").Inc()
		slog.Warn("Chat connection lost, reconnecting", "error", err, "delay", s.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.setState(StateConnecting)

	// The token is fetched per attempt, never captured across reconnects.
	token, err := s.tokens.GetValidToken(ctx, s.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("failed to get chat token: %w", err)
	}

	conn, err := s.dialer(ctx, s.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.cfg.ServerAddr, err)
	}
	defer conn.Close()

	// Cancellation closes the socket so the blocked reader wakes up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.setState(StateAuthenticating)
	if err := s.login(conn, token); err != nil {
		return err
	}

	writerDone := make(chan struct{})
	writerErr := make(chan error, 1)
	go s.writeLoop(ctx, conn, writerDone, writerErr)
	defer close(writerDone)

	readErr := s.readLoop(ctx, conn)

	select {
	case err := <-writerErr:
		return err
	default:
	}
	return readErr
}

// login happens before the writer starts; at this point the session owns
// the only reference to the socket.
func (s *Session) login(conn net.Conn, token string) error {
	lines := []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"PASS oauth:" + token,
		"NICK " + strings.ToLower(s.cfg.Nick),
	}
	for _, line := range lines {
		if err := writeLine(conn, line); err != nil {
			return fmt.Errorf("login write failed: %w", err)
		}
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("chat read failed: %w", err)
			}
			return fmt.Errorf("chat connection closed by server")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		msg, err := irc.ParseMessage(line)
		if err != nil {
			// A malformed line is skipped; the connection stays up.
			metrics.ChatMalformedLinesTotal.Inc()
			slog.Warn("Skipping malformed chat line", "line", line, "error", err)
			continue
		}

		metrics.ChatLinesReceivedTotal.WithLabelValues(msg.Command).Inc()
		s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg *irc.Message) {
	switch msg.Command {
	case "PING":
		// Answered ahead of queued writes via the priority lane.
		select {
		case s.pongCh <- msg.Trailing():
		default:
			slog.Warn("Pong queue full, dropping keepalive reply")
		}
	case "001":
		// Welcome: authentication accepted, join the configured channels.
		s.setState(StateJoining)
		s.mu.Lock()
		channels := make([]string, 0, len(s.channels))
		for ch := range s.channels {
			channels = append(channels, ch)
		}
		s.mu.Unlock()
		for _, ch := range channels {
			select {
			case s.cmdCh <- joinCmd{channel: ch}:
			default:
				slog.Warn("Command queue full during join", "channel", ch)
			}
		}
		s.setState(StateReady)
		slog.Info("Chat session ready", "nick", s.cfg.Nick, "channels", len(channels))
	case "RECONNECT":
		// Server asks us to reconnect; treated like any disconnect.
		s.Disconnect()
	}

	if s.handler != nil {
		s.handler(msg)
	}
}

// writeLoop is the only goroutine writing to the socket once login is
// done, guaranteeing no interleaved partial writes. Pending keepalive
// replies always win over queued commands.
func (s *Session) writeLoop(ctx context.Context, conn net.Conn, done chan struct{}, errCh chan error) {
	fail := func(err error) {
		errCh <- err
		_ = conn.Close()
	}

	for {
		// Priority lane: answer every pending PING first.
		select {
		case token := <-s.pongCh:
			if err := s.writePong(conn, token); err != nil {
				fail(err)
				return
			}
			continue
		default:
		}

		// A pending disconnect preempts whatever sends are still queued.
		select {
		case <-s.disconnectCh:
			slog.Info("Chat disconnect requested")
			fail(fmt.Errorf("disconnect requested"))
			return
		default:
		}

		select {
		case <-done:
			return
		case token := <-s.pongCh:
			if err := s.writePong(conn, token); err != nil {
				fail(err)
				return
			}
		case <-s.disconnectCh:
			slog.Info("Chat disconnect requested")
			fail(fmt.Errorf("disconnect requested"))
			return
		case cmd := <-s.cmdCh:
			switch c := cmd.(type) {
			case sendCmd:
				if err := s.limiter.Wait(ctx); err != nil {
					fail(err)
					return
				}
				line := irc.Message{Command: "PRIVMSG", Params: []string{c.channel, c.text}, HasTrailing: true}
				if err := writeLine(conn, line.String()); err != nil {
					fail(err)
					return
				}
				metrics.ChatWritesTotal.WithLabelValues("privmsg").Inc()
			case joinCmd:
				if err := writeLine(conn, "JOIN "+c.channel); err != nil {
					fail(err)
					return
				}
				metrics.ChatWritesTotal.WithLabelValues("join").Inc()
			case partCmd:
				if err := writeLine(conn, "PART "+c.channel); err != nil {
					fail(err)
					return
				}
				metrics.ChatWritesTotal.WithLabelValues("part").Inc()
			}
		}
	}
}

func (s *Session) writePong(conn net.Conn, token string) error {
	line := irc.Message{Command: "PONG", Params: []string{token}, HasTrailing: true}
	if err := writeLine(conn, line.String()); err != nil {
		return err
	}
	metrics.ChatWritesTotal.WithLabelValues("pong").Inc()
	return nil
}

func writeLine(conn net.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// normalizeChannel lowercases and ensures the leading channel marker.
func normalizeChannel(channel string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}
	return channel
}
