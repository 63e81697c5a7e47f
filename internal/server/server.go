// Package server exposes the HTTP surface of the gateway: the EventSub
// webhook callback, a small management API, health probes, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/botforge/streamgate/internal/credentials"
	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/platform/config"
)

type credentialService interface {
	ExchangeCode(ctx context.Context, code string) (*domain.Credential, error)
	Revoke(ctx context.Context, accountID uuid.UUID) error
	Status(accountID uuid.UUID) credentials.Status
}

type subscriptionService interface {
	List(ctx context.Context) ([]domain.Subscription, error)
	Delete(ctx context.Context, subscriptionID string) error
}

type webhookHandler interface {
	Handle(c echo.Context) error
}

type announcementService interface {
	Announce(ctx context.Context, broadcasterLogin, message string) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	chat          domain.ChatSender
	announcements announcementService
	events        domain.EventRepository
	credentials   credentialService
	subscriptions subscriptionService
	webhook       webhookHandler

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(
	cfg *config.Config,
	chat domain.ChatSender,
	announcements announcementService,
	events domain.EventRepository,
	creds credentialService,
	subs subscriptionService,
	webhook webhookHandler,
	healthChecks []HealthCheck,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:          e,
		config:        cfg,
		chat:          chat,
		announcements: announcements,
		events:        events,
		credentials:   creds,
		subscriptions: subs,
		webhook:       webhook,
		healthChecks:  healthChecks,
		startTime:     time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
