package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/metrics"
	"github.com/botforge/streamgate/internal/platform/correlation"
)

// SocketDialer opens the websocket. Overridable for tests.
type SocketDialer func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultSocketDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SocketConfig holds the websocket transport settings.
type SocketConfig struct {
	URL              string
	ReconnectDelay   time.Duration
	KeepaliveTimeout time.Duration
}

// Socket maintains the EventSub websocket: welcome handshake, keepalive
// watchdog, notification delivery, and server-directed reconnects.
type Socket struct {
	cfg    SocketConfig
	sink   Sink
	clock  clockwork.Clock
	dialer SocketDialer

	// OnWelcome fires with the provider session ID once per handshake, so
	// websocket-transport subscriptions can be bound to the session.
	OnWelcome func(ctx context.Context, sessionID string)

	// OnRevocation fires when the provider revokes a subscription mid-session.
	OnRevocation func(subscriptionID, status string)

	mu        sync.Mutex
	sessionID string
}

func NewSocket(cfg SocketConfig, sink Sink, clock clockwork.Clock) *Socket {
	return &Socket{cfg: cfg, sink: sink, clock: clock, dialer: defaultSocketDialer}
}

// SetDialer overrides the websocket dialer (tests).
func (s *Socket) SetDialer(d SocketDialer) { s.dialer = d }

// SessionID returns the provider session ID of the current connection,
// or empty before the first welcome.
func (s *Socket) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Socket) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Run supervises the connection until ctx is cancelled. A server-directed
// reconnect redials the handed-over URL immediately; every other failure
// waits the fixed delay first.
func (s *Socket) Run(ctx context.Context) error {
	url := s.cfg.URL
	for {
		// Each connection attempt gets its own correlation ID.
		nextURL, err := s.runOnce(correlation.WithID(ctx, correlation.NewID()), url)
		s.setSessionID("")

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if nextURL != "" {
			// Session handover: the provider is waiting for us at the new URL.
			metrics.SocketReconnectsTotal.WithLabelValues("handover").Inc()
			slog.Info("EventSub socket migrating to reconnect URL")
			url = nextURL
			continue
		}

		metrics.SocketReconnectsTotal.WithLabelValues("retry").Inc()
		slog.Warn("EventSub socket lost, reconnecting", "error", err, "delay", s.cfg.ReconnectDelay)
		url = s.cfg.URL

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.cfg.ReconnectDelay):
		}
	}
}

// runOnce reads one connection to completion. A non-empty nextURL means
// the server asked for a session handover.
func (s *Socket) runOnce(ctx context.Context, url string) (nextURL string, err error) {
	conn, err := s.dialer(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to dial eventsub socket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// The watchdog closes the connection when neither a keepalive nor a
	// notification arrives within the window. Until the welcome announces
	// its own timeout, the configured default applies.
	window := s.keepaliveWindow(0)
	keepalive := s.clock.NewTimer(window)
	defer keepalive.Stop()
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-keepalive.Chan():
			slog.Warn("EventSub keepalive window elapsed, dropping connection")
			_ = conn.Close()
		case <-watchdogDone:
		}
	}()

	welcomed := false
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return "", fmt.Errorf("eventsub socket read failed: %w", err)
		}
		metrics.SocketFramesTotal.WithLabelValues(frame.Metadata.MessageType).Inc()

		switch frame.Metadata.MessageType {
		case FrameWelcome:
			var payload SessionPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return "", fmt.Errorf("malformed welcome payload: %w", err)
			}
			s.setSessionID(payload.Session.ID)
			// The announced timeout governs every later watchdog reset.
			window = s.keepaliveWindow(payload.Session.KeepaliveTimeoutSeconds)
			keepalive.Reset(window)
			welcomed = true
			slog.Info("EventSub socket established", "session_id", payload.Session.ID)
			if s.OnWelcome != nil {
				// Subscription setup does API calls; never on the read loop.
				go s.OnWelcome(ctx, payload.Session.ID)
			}

		case FrameKeepalive:
			if !welcomed {
				slog.Warn("Dropping keepalive before welcome")
				continue
			}
			keepalive.Reset(window)

		case FrameNotification:
			if !welcomed {
				slog.Warn("Dropping notification before welcome")
				continue
			}
			keepalive.Reset(window)
			var payload NotificationPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				slog.Warn("Skipping malformed notification frame", "error", err)
				continue
			}
			evt := rawEventFromNotification(payload, domain.SourceWebsocket, s.clock.Now())
			if !s.sink.Offer(evt) {
				slog.Warn("Event pipeline full, socket notification dropped",
					"subscription_type", payload.Subscription.Type)
			}

		case FrameReconnect:
			var payload SessionPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return "", fmt.Errorf("malformed reconnect payload: %w", err)
			}
			return payload.Session.ReconnectURL, nil

		case FrameRevocation:
			var payload NotificationPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				slog.Warn("Skipping malformed revocation frame", "error", err)
				continue
			}
			slog.Warn("EventSub subscription revoked on socket",
				"subscription_id", payload.Subscription.ID,
				"status", payload.Subscription.Status)
			if s.OnRevocation != nil {
				s.OnRevocation(payload.Subscription.ID, payload.Subscription.Status)
			}

		default:
			// Forward compatibility: unknown frames are ignored.
			slog.Debug("Ignoring unknown eventsub frame", "type", frame.Metadata.MessageType)
		}
	}
}

// keepaliveWindow sizes the watchdog from the server-announced timeout,
// with slack for jitter, falling back to the configured default.
func (s *Socket) keepaliveWindow(announcedSeconds int) time.Duration {
	window := s.cfg.KeepaliveTimeout
	if announcedSeconds > 0 {
		window = time.Duration(announcedSeconds) * time.Second
	}
	return window + window/2
}
