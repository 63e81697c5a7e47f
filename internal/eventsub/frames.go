// Package eventsub ingests provider event notifications over two
// transports: signed webhook deliveries and a long-lived websocket.
// Both feed the same downstream sink.
package eventsub

import (
	"encoding/json"
	"time"

	"github.com/botforge/streamgate/internal/domain"
)

// Webhook header names used by the provider.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
	HeaderSubscriptionType = "Twitch-Eventsub-Subscription-Type"
)

// Webhook message types.
const (
	WebhookTypeNotification = "notification"
	WebhookTypeVerification = "webhook_callback_verification"
	WebhookTypeRevocation   = "revocation"
)

// Websocket frame types.
const (
	FrameWelcome      = "session_welcome"
	FrameKeepalive    = "session_keepalive"
	FrameNotification = "notification"
	FrameReconnect    = "session_reconnect"
	FrameRevocation   = "revocation"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Metadata FrameMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// FrameMetadata describes the frame independent of its payload.
type FrameMetadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// SessionPayload is carried by welcome and reconnect frames.
type SessionPayload struct {
	Session SessionInfo `json:"session"`
}

// SessionInfo identifies a websocket session on the provider side.
type SessionInfo struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            string    `json:"reconnect_url"`
	ConnectedAt             time.Time `json:"connected_at"`
}

// NotificationPayload is carried by notification and revocation frames,
// and by webhook deliveries.
type NotificationPayload struct {
	Subscription SubscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
	Challenge    string           `json:"challenge,omitempty"`
}

// SubscriptionInfo mirrors the provider's subscription object.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sink accepts raw events for dispatching. Offer must not block: it
// reports false when the event was dropped because the pipeline is full.
type Sink interface {
	Offer(evt domain.RawEvent) bool
}
