package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchRedirectURI  string `env:"TWITCH_REDIRECT_URI"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	ChatServerAddr string   `env:"CHAT_SERVER_ADDR" default:"irc.chat.twitch.tv:6697"`
	ChatNick       string   `env:"CHAT_NICK"`
	ChatChannels   []string `env:"CHAT_CHANNELS" default:""`
	BotAccountID   string   `env:"BOT_ACCOUNT_ID"`

	WebhookCallbackURL string `env:"WEBHOOK_CALLBACK_URL"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`
	EventSubSocketURL  string `env:"EVENTSUB_SOCKET_URL" default:"wss://eventsub.wss.twitch.tv/ws"`

	ReconnectDelay   time.Duration `env:"RECONNECT_DELAY" default:"5s"`
	KeepaliveTimeout time.Duration `env:"KEEPALIVE_TIMEOUT" default:"30s"`
	DedupWindow      time.Duration `env:"DEDUP_WINDOW" default:"10m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":         cfg.DatabaseURL,
		"REDIS_URL":            cfg.RedisURL,
		"TWITCH_CLIENT_ID":     cfg.TwitchClientID,
		"TWITCH_CLIENT_SECRET": cfg.TwitchClientSecret,
		"CHAT_NICK":            cfg.ChatNick,
		"BOT_ACCOUNT_ID":       cfg.BotAccountID,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	// Webhook transport is optional, but its settings come as a pair.
	if (cfg.WebhookCallbackURL == "") != (cfg.WebhookSecret == "") {
		return errors.New("WEBHOOK_CALLBACK_URL and WEBHOOK_SECRET must be set together")
	}
	if cfg.WebhookSecret != "" && (len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100) {
		return errors.New("WEBHOOK_SECRET must be between 10 and 100 characters")
	}

	if cfg.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if cfg.KeepaliveTimeout <= 0 {
		return errors.New("KEEPALIVE_TIMEOUT must be positive")
	}

	return nil
}
