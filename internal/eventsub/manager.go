package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/platform/retry"
	"github.com/botforge/streamgate/internal/twitchapi"
)

// subscriptionAPI is the slice of the provider client the manager needs.
type subscriptionAPI interface {
	CreateSubscription(ctx context.Context, accessToken string, params twitchapi.CreateSubscriptionParams) (*twitchapi.EventSubSubscription, error)
	ListSubscriptions(ctx context.Context, accessToken string) ([]twitchapi.EventSubSubscription, error)
	DeleteSubscription(ctx context.Context, accessToken, id string) error
}

// tokenSource supplies a current access token for provider API calls.
type tokenSource interface {
	GetValidToken(ctx context.Context, accountID uuid.UUID) (string, error)
}

// Desired names a subscription the service wants to exist, without a
// transport; the manager binds the transport when it creates it.
type Desired struct {
	Type      string
	Version   string
	Condition map[string]string
}

// WebhookTransport configures webhook-bound subscriptions.
type WebhookTransport struct {
	CallbackURL string
	Secret      string
}

var createRetryPolicy = retry.Policy{
	MaxAttempts:      4,
	InitialBackoff:   time.Second,
	RateLimitBackoff: 10 * time.Second,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Retrying subscription create", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

// classifyAPIError retries throttling and provider outages; any other
// rejection is final.
func classifyAPIError(err error) retry.Action {
	var apiErr *twitchapi.APIError
	if !errors.As(err, &apiErr) {
		return retry.Retry // transport-level failure
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= http.StatusInternalServerError:
		return retry.Retry
	default:
		return retry.Stop
	}
}

// Manager reconciles desired subscriptions against the provider and keeps
// the local subscription records current.
type Manager struct {
	api       subscriptionAPI
	repo      domain.SubscriptionRepository
	tokens    tokenSource
	accountID uuid.UUID

	websocketDesired []Desired
	webhookDesired   []Desired
	webhook          WebhookTransport
	retryPolicy      retry.Policy
}

func NewManager(api subscriptionAPI, repo domain.SubscriptionRepository, tokens tokenSource, accountID uuid.UUID) *Manager {
	return &Manager{api: api, repo: repo, tokens: tokens, accountID: accountID, retryPolicy: createRetryPolicy}
}

// DesireWebsocket registers subscriptions to bind to each websocket session.
func (m *Manager) DesireWebsocket(subs ...Desired) {
	m.websocketDesired = append(m.websocketDesired, subs...)
}

// DesireWebhook registers subscriptions to deliver to the webhook callback.
func (m *Manager) DesireWebhook(transport WebhookTransport, subs ...Desired) {
	m.webhook = transport
	m.webhookDesired = append(m.webhookDesired, subs...)
}

// BindSession creates every desired websocket subscription against a fresh
// provider session. Called from the socket's welcome hook, so a reconnect
// that produced a new session re-establishes its subscriptions.
func (m *Manager) BindSession(ctx context.Context, sessionID string) {
	for _, d := range m.websocketDesired {
		transport := twitchapi.Transport{Method: "websocket", SessionID: sessionID}
		if err := m.create(ctx, d, transport, sessionID); err != nil {
			slog.Error("Failed to create websocket subscription",
				"type", d.Type, "session_id", sessionID, "error", err)
		}
	}
}

// EnsureWebhookSubscriptions creates the desired webhook subscriptions,
// skipping ones the provider already has enabled.
func (m *Manager) EnsureWebhookSubscriptions(ctx context.Context) error {
	token, err := m.tokens.GetValidToken(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("failed to get token for subscription sync: %w", err)
	}

	existing, err := m.api.ListSubscriptions(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to list provider subscriptions: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, sub := range existing {
		if sub.Status == domain.SubscriptionEnabled && sub.Transport.Method == "webhook" {
			have[sub.Type] = true
		}
	}

	transport := twitchapi.Transport{
		Method:   "webhook",
		Callback: m.webhook.CallbackURL,
		Secret:   m.webhook.Secret,
	}
	for _, d := range m.webhookDesired {
		if have[d.Type] {
			continue
		}
		if err := m.create(ctx, d, transport, ""); err != nil {
			return err
		}
	}
	return nil
}

// create calls the provider with retry and persists the resulting record.
func (m *Manager) create(ctx context.Context, d Desired, transport twitchapi.Transport, sessionID string) error {
	sub, err := retry.Do(ctx, m.retryPolicy, classifyAPIError, func() (*twitchapi.EventSubSubscription, error) {
		token, err := m.tokens.GetValidToken(ctx, m.accountID)
		if err != nil {
			return nil, &twitchapi.APIError{StatusCode: http.StatusUnauthorized, Message: err.Error()}
		}
		return m.api.CreateSubscription(ctx, token, twitchapi.CreateSubscriptionParams{
			Type:      d.Type,
			Version:   d.Version,
			Condition: d.Condition,
			Transport: transport,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription %s: %w", d.Type, err)
	}

	record := domain.Subscription{
		ID:        sub.ID,
		AccountID: m.accountID,
		Type:      sub.Type,
		Version:   sub.Version,
		Condition: d.Condition,
		Transport: transport.Method,
		SessionID: sessionID,
		Status:    domain.SubscriptionEnabled,
	}
	if err := m.repo.Create(ctx, &record); err != nil {
		return fmt.Errorf("failed to persist subscription %s: %w", sub.ID, err)
	}
	slog.Info("EventSub subscription created", "id", sub.ID, "type", sub.Type, "transport", transport.Method)
	return nil
}

// Delete removes a subscription at the provider and locally.
func (m *Manager) Delete(ctx context.Context, subscriptionID string) error {
	token, err := m.tokens.GetValidToken(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("failed to get token for subscription delete: %w", err)
	}
	if err := m.api.DeleteSubscription(ctx, token, subscriptionID); err != nil {
		var apiErr *twitchapi.APIError
		// Already gone upstream still clears the local record.
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			return fmt.Errorf("failed to delete subscription %s: %w", subscriptionID, err)
		}
	}
	return m.repo.Delete(ctx, subscriptionID)
}

// MarkRevoked records a provider-side revocation. Wired to both the
// webhook revocation delivery and the socket revocation frame.
func (m *Manager) MarkRevoked(subscriptionID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.MarkRevoked(ctx, subscriptionID); err != nil {
		slog.Error("Failed to record subscription revocation",
			"id", subscriptionID, "status", status, "error", err)
	}
}

// List returns the locally known subscriptions for the bot account.
func (m *Manager) List(ctx context.Context) ([]domain.Subscription, error) {
	return m.repo.ListByAccount(ctx, m.accountID)
}
