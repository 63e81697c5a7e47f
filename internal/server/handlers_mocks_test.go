package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/botforge/streamgate/internal/credentials"
	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/platform/config"
)

// --- Mock implementations ---

type mockChatSender struct {
	sendFn func(channel, text string) error
	sent   []string
}

func (m *mockChatSender) SendMessage(channel, text string) error {
	m.sent = append(m.sent, channel+" "+text)
	if m.sendFn != nil {
		return m.sendFn(channel, text)
	}
	return nil
}

type mockAnnouncementService struct {
	announceFn func(ctx context.Context, broadcasterLogin, message string) error
	announced  []string
}

func (m *mockAnnouncementService) Announce(ctx context.Context, broadcasterLogin, message string) error {
	m.announced = append(m.announced, broadcasterLogin+" "+message)
	if m.announceFn != nil {
		return m.announceFn(ctx, broadcasterLogin, message)
	}
	return nil
}

type mockEventRepository struct {
	listRecentFn func(ctx context.Context, limit int) ([]domain.RawEvent, error)
}

func (m *mockEventRepository) Insert(_ context.Context, _ *domain.RawEvent) error {
	return errors.New("not implemented")
}

func (m *mockEventRepository) ListRecent(ctx context.Context, limit int) ([]domain.RawEvent, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

type mockCredentialService struct {
	exchangeFn func(ctx context.Context, code string) (*domain.Credential, error)
	revokeFn   func(ctx context.Context, accountID uuid.UUID) error
	statusFn   func(accountID uuid.UUID) credentials.Status
}

func (m *mockCredentialService) ExchangeCode(ctx context.Context, code string) (*domain.Credential, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCredentialService) Revoke(ctx context.Context, accountID uuid.UUID) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, accountID)
	}
	return nil
}

func (m *mockCredentialService) Status(accountID uuid.UUID) credentials.Status {
	if m.statusFn != nil {
		return m.statusFn(accountID)
	}
	return credentials.StatusOK
}

type mockSubscriptionService struct {
	listFn   func(ctx context.Context) ([]domain.Subscription, error)
	deleteFn func(ctx context.Context, subscriptionID string) error
}

func (m *mockSubscriptionService) List(ctx context.Context) ([]domain.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Delete(ctx context.Context, subscriptionID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, subscriptionID)
	}
	return nil
}

type mockWebhookHandler struct {
	handleFn func(c echo.Context) error
}

func (m *mockWebhookHandler) Handle(c echo.Context) error {
	if m.handleFn != nil {
		return m.handleFn(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Test server setup ---

type testServerOption func(*testServerDeps)

type testServerDeps struct {
	chat          *mockChatSender
	announcements *mockAnnouncementService
	events        *mockEventRepository
	credentials   *mockCredentialService
	subscriptions *mockSubscriptionService
	webhook       *mockWebhookHandler
	healthChecks  []HealthCheck
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(d *testServerDeps) { d.healthChecks = checks }
}

func withChat(chat *mockChatSender) testServerOption {
	return func(d *testServerDeps) { d.chat = chat }
}

func withAnnouncements(announcements *mockAnnouncementService) testServerOption {
	return func(d *testServerDeps) { d.announcements = announcements }
}

func withEvents(events *mockEventRepository) testServerOption {
	return func(d *testServerDeps) { d.events = events }
}

func withCredentials(creds *mockCredentialService) testServerOption {
	return func(d *testServerDeps) { d.credentials = creds }
}

func withSubscriptions(subs *mockSubscriptionService) testServerOption {
	return func(d *testServerDeps) { d.subscriptions = subs }
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	deps := &testServerDeps{
		chat:          &mockChatSender{},
		announcements: &mockAnnouncementService{},
		events:        &mockEventRepository{},
		credentials:   &mockCredentialService{},
		subscriptions: &mockSubscriptionService{},
		webhook:       &mockWebhookHandler{},
	}
	for _, opt := range opts {
		opt(deps)
	}

	cfg := &config.Config{Port: "8080"}
	return NewServer(cfg, deps.chat, deps.announcements, deps.events, deps.credentials, deps.subscriptions, deps.webhook, deps.healthChecks)
}
