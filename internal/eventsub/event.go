package eventsub

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/botforge/streamgate/internal/domain"
)

// providerEventID are the fields the provider uses as an event identity,
// in preference order. Not every event type carries one.
var providerEventIDFields = []string{"message_id", "id"}

// rawEventFromNotification normalizes a verified delivery into the shape
// the dispatcher consumes, independent of which transport carried it.
func rawEventFromNotification(p NotificationPayload, source string, now time.Time) domain.RawEvent {
	return domain.RawEvent{
		DedupKey:   dedupKey(p.Subscription.Type, p.Event),
		Type:       p.Subscription.Type,
		Source:     source,
		Payload:    p.Event,
		ReceivedAt: now,
	}
}

// dedupKey combines the event type with the provider's event identifier.
// Events without an identifier fall back to a payload digest so identical
// redeliveries still collapse while distinct events never collide.
func dedupKey(eventType string, payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		for _, name := range providerEventIDFields {
			var id string
			if raw, ok := fields[name]; ok && json.Unmarshal(raw, &id) == nil && id != "" {
				return eventType + ":" + id
			}
		}
	}
	sum := sha256.Sum256(payload)
	return eventType + ":sha256:" + hex.EncodeToString(sum[:])
}
