package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Credential is an OAuth token pair for a logical Twitch account,
// together with expiry and scope metadata. Tokens are stored encrypted;
// the repository hands them out decrypted.
type Credential struct {
	AccountID    uuid.UUID
	TwitchUserID string
	Login        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Scopes       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpiresWithin reports whether the access token expires before now+d.
func (c *Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(c.TokenExpiry)
}

// Subscription is an EventSub subscription as tracked locally.
type Subscription struct {
	ID        string // provider-assigned subscription ID
	AccountID uuid.UUID
	Type      string
	Version   string
	Condition map[string]string
	Transport string // "webhook" or "websocket"
	SessionID string // websocket session the subscription is bound to, if any
	Status    string
	CreatedAt time.Time
}

// Subscription status values.
const (
	SubscriptionEnabled = "enabled"
	SubscriptionRevoked = "revoked"
)

// Event is the canonical envelope produced from either ingest transport.
type Event struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// RawEvent is the audit record persisted before dispatch.
type RawEvent struct {
	DedupKey   string
	Type       string
	Source     string
	Payload    []byte
	ReceivedAt time.Time
}

// Raw event sources.
const (
	SourceChat      = "chat"
	SourceWebhook   = "webhook"
	SourceWebsocket = "websocket"
)

// CredentialRepository persists credentials keyed by account.
type CredentialRepository interface {
	Get(ctx context.Context, accountID uuid.UUID) (*Credential, error)
	Upsert(ctx context.Context, cred *Credential) (*Credential, error)
	UpdateTokens(ctx context.Context, accountID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error
	Delete(ctx context.Context, accountID uuid.UUID) error
}

// SubscriptionRepository persists EventSub subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Subscription, error)
	MarkRevoked(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// EventRepository persists raw events for audit and replay.
// Insert is idempotent on DedupKey: a second insert of the same key
// reports ErrDuplicateEvent and writes nothing.
type EventRepository interface {
	Insert(ctx context.Context, ev *RawEvent) error
	ListRecent(ctx context.Context, limit int) ([]RawEvent, error)
}

// DedupStore remembers processed event keys for a bounded window.
// MarkSeen returns true exactly once per key within the window.
type DedupStore interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ChatSender lets components request a chat send without touching the
// chat session directly.
type ChatSender interface {
	SendMessage(channel, text string) error
}

// EventBus is the in-process fan-out consumed by feature plugins.
type EventBus interface {
	Publish(ev Event)
	Subscribe(eventType string) (<-chan Event, func())
}
