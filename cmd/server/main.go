package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/botforge/streamgate/internal/chat"
	"github.com/botforge/streamgate/internal/credentials"
	"github.com/botforge/streamgate/internal/crypto"
	"github.com/botforge/streamgate/internal/dispatch"
	"github.com/botforge/streamgate/internal/domain"
	"github.com/botforge/streamgate/internal/eventsub"
	"github.com/botforge/streamgate/internal/irc"
	"github.com/botforge/streamgate/internal/platform/config"
	"github.com/botforge/streamgate/internal/platform/logging"
	"github.com/botforge/streamgate/internal/postgres"
	"github.com/botforge/streamgate/internal/redis"
	"github.com/botforge/streamgate/internal/server"
	"github.com/botforge/streamgate/internal/twitchapi"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Redis ping failed", "error", err)
		os.Exit(1)
	}

	return client
}

func setupCrypto(cfg *config.Config) crypto.Service {
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, tokens stored in plaintext")
		return crypto.NoopService{}
	}

	svc, err := crypto.NewAesGcmService(cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}
	return svc
}

// desiredSubscriptions registers the subscriptions the gateway wants for
// the bot's own channel. Without a stored credential there is no channel
// to subscribe to yet; the operator completes /auth/exchange first and
// restarts.
func desiredSubscriptions(ctx context.Context, mgr *eventsub.Manager, credRepo domain.CredentialRepository, accountID uuid.UUID, cfg *config.Config) {
	cred, err := credRepo.Get(ctx, accountID)
	if err != nil {
		slog.Warn("No stored credential, skipping subscription setup", "account_id", accountID.String(), "error", err)
		return
	}

	broadcaster := map[string]string{"broadcaster_user_id": cred.TwitchUserID}

	mgr.DesireWebsocket(
		eventsub.Desired{Type: "channel.follow", Version: "2", Condition: map[string]string{
			"broadcaster_user_id": cred.TwitchUserID,
			"moderator_user_id":   cred.TwitchUserID,
		}},
		eventsub.Desired{Type: "channel.raid", Version: "1", Condition: map[string]string{
			"to_broadcaster_user_id": cred.TwitchUserID,
		}},
	)

	if cfg.WebhookCallbackURL != "" {
		transport := eventsub.WebhookTransport{CallbackURL: cfg.WebhookCallbackURL, Secret: cfg.WebhookSecret}
		mgr.DesireWebhook(transport,
			eventsub.Desired{Type: "stream.online", Version: "1", Condition: broadcaster},
			eventsub.Desired{Type: "stream.offline", Version: "1", Condition: broadcaster},
		)

		setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := mgr.EnsureWebhookSubscriptions(setupCtx); err != nil {
			slog.Error("Failed to reconcile webhook subscriptions", "error", err)
		}
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	accountID, err := uuid.Parse(cfg.BotAccountID)
	if err != nil {
		slog.Error("BOT_ACCOUNT_ID is not a valid UUID", "error", err)
		os.Exit(1)
	}

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	cryptoSvc := setupCrypto(cfg)
	credRepo := postgres.NewCredentialRepo(pool, cryptoSvc)
	subRepo := postgres.NewSubscriptionRepo(pool)
	eventRepo := postgres.NewEventRepo(pool)
	dedupStore := redis.NewDedupStore(redisClient)

	apiClient := twitchapi.NewClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	credMgr := credentials.NewManager(credRepo, apiClient, cfg.TwitchRedirectURI, clock)
	subMgr := eventsub.NewManager(apiClient, subRepo, credMgr, accountID)

	bus := dispatch.NewBus()
	defer bus.Close()
	dispatcher := dispatch.NewDispatcher(dedupStore, eventRepo, bus, cfg.DedupWindow)

	chatHandler := func(msg *irc.Message) {
		if raw, ok := dispatch.FromChatMessage(msg, clock.Now()); ok {
			dispatcher.Offer(raw)
		}
	}
	session := chat.NewSession(chat.Config{
		ServerAddr:     cfg.ChatServerAddr,
		Nick:           cfg.ChatNick,
		AccountID:      accountID,
		Channels:       cfg.ChatChannels,
		ReconnectDelay: cfg.ReconnectDelay,
	}, credMgr, chatHandler, clock)
	announcer := chat.NewAnnouncer(apiClient, credMgr, accountID)

	socket := eventsub.NewSocket(eventsub.SocketConfig{
		URL:              cfg.EventSubSocketURL,
		ReconnectDelay:   cfg.ReconnectDelay,
		KeepaliveTimeout: cfg.KeepaliveTimeout,
	}, dispatcher, clock)
	socket.OnWelcome = subMgr.BindSession
	socket.OnRevocation = subMgr.MarkRevoked

	var webhookHandler *eventsub.WebhookHandler
	if cfg.WebhookCallbackURL != "" {
		webhookHandler = eventsub.NewWebhookHandler(cfg.WebhookSecret, dispatcher, clock)
		webhookHandler.RevocationHook = subMgr.MarkRevoked
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	desiredSubscriptions(ctx, subMgr, credRepo, accountID, cfg)

	healthChecks := []server.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: redisClient.Ping},
	}
	var srv *server.Server
	if webhookHandler != nil {
		srv = server.NewServer(cfg, session, announcer, eventRepo, credMgr, subMgr, webhookHandler, healthChecks)
	} else {
		// Pass nil explicitly to avoid a typed-nil interface value.
		srv = server.NewServer(cfg, session, announcer, eventRepo, credMgr, subMgr, nil, healthChecks)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return socket.Run(ctx) })
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Service terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
