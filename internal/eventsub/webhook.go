package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/botforge/streamgate/internal/domain"
	apperrors "github.com/botforge/streamgate/internal/errors"
	"github.com/botforge/streamgate/internal/metrics"
)

const (
	maxWebhookBody = 1 << 20

	// Deliveries whose timestamp is further from now than this are rejected
	// to limit replay of captured requests.
	timestampTolerance = 10 * time.Minute
)

// WebhookHandler verifies and accepts EventSub webhook deliveries.
//
// Every verified notification is answered before processing finishes: the
// event is handed to the sink without blocking, and the provider gets its
// 2xx regardless of what happens downstream.
type WebhookHandler struct {
	secret []byte
	sink   Sink
	clock  clockwork.Clock

	// RevocationHook runs on revocation deliveries so subscription state
	// can be updated; optional.
	RevocationHook func(subscriptionID, status string)
}

func NewWebhookHandler(secret string, sink Sink, clock clockwork.Clock) *WebhookHandler {
	return &WebhookHandler{secret: []byte(secret), sink: sink, clock: clock}
}

// Handle is the echo handler for the webhook callback route. The route is
// registered for POST only; echo answers other methods with 405.
func (h *WebhookHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("read_error").Inc()
		return apperrors.ProtocolError("failed to read request body", err)
	}

	messageID := req.Header.Get(HeaderMessageID)
	timestamp := req.Header.Get(HeaderMessageTimestamp)
	signature := req.Header.Get(HeaderMessageSignature)
	if messageID == "" || timestamp == "" || signature == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("missing_headers").Inc()
		return apperrors.ValidationError("missing eventsub headers")
	}

	if err := h.verifySignature(messageID, timestamp, body, signature); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("bad_signature").Inc()
		return err
	}

	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("bad_payload").Inc()
		return apperrors.ProtocolError("malformed notification payload", err)
	}

	switch req.Header.Get(HeaderMessageType) {
	case WebhookTypeVerification:
		metrics.WebhookRequestsTotal.WithLabelValues("verification").Inc()
		slog.Info("Answering webhook callback verification",
			"subscription_type", payload.Subscription.Type)
		return c.String(http.StatusOK, payload.Challenge)

	case WebhookTypeRevocation:
		metrics.WebhookRequestsTotal.WithLabelValues("revocation").Inc()
		slog.Warn("EventSub subscription revoked",
			"subscription_id", payload.Subscription.ID,
			"subscription_type", payload.Subscription.Type,
			"status", payload.Subscription.Status)
		if h.RevocationHook != nil {
			h.RevocationHook(payload.Subscription.ID, payload.Subscription.Status)
		}
		return c.NoContent(http.StatusNoContent)

	case WebhookTypeNotification:
		metrics.WebhookRequestsTotal.WithLabelValues("notification").Inc()
		evt := rawEventFromNotification(payload, domain.SourceWebhook, h.clock.Now())
		if !h.sink.Offer(evt) {
			// Still a 204: the provider must not retry what we chose to shed.
			slog.Warn("Event pipeline full, webhook delivery dropped",
				"message_id", messageID, "subscription_type", payload.Subscription.Type)
		}
		return c.NoContent(http.StatusNoContent)

	default:
		metrics.WebhookRequestsTotal.WithLabelValues("unknown_type").Inc()
		return apperrors.ValidationError("unknown eventsub message type")
	}
}

// verifySignature checks the HMAC-SHA256 of id+timestamp+body in constant
// time and bounds the timestamp's distance from now.
func (h *WebhookHandler) verifySignature(messageID, timestamp string, body []byte, got string) error {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return apperrors.ProtocolError("malformed eventsub timestamp", err)
	}
	if age := h.clock.Now().Sub(ts).Abs(); age > timestampTolerance {
		return apperrors.SecurityError("eventsub timestamp outside tolerance").
			WithContext("age", age.String())
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(got)) {
		return apperrors.SecurityError("eventsub signature mismatch").
			WithContext("message_id", messageID)
	}
	return nil
}
