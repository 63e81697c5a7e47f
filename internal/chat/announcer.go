package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/botforge/streamgate/internal/twitchapi"
)

// announceAPI is the slice of the provider client announcements need.
type announceAPI interface {
	GetCurrentUser(ctx context.Context, accessToken string) (*twitchapi.User, error)
	GetUserByLogin(ctx context.Context, accessToken, login string) (*twitchapi.User, error)
	SendAnnouncement(ctx context.Context, accessToken, broadcasterID, moderatorID, message string) error
}

// Announcer posts highlighted announcements through the management API,
// as opposed to plain PRIVMSGs over the chat socket. Logins are resolved
// per call; the service account's own user ID is resolved once and cached.
type Announcer struct {
	api       announceAPI
	tokens    TokenSource
	accountID uuid.UUID

	mu          sync.Mutex
	moderatorID string
}

func NewAnnouncer(api announceAPI, tokens TokenSource, accountID uuid.UUID) *Announcer {
	return &Announcer{api: api, tokens: tokens, accountID: accountID}
}

// Announce posts message to the broadcaster's chat as an announcement.
func (a *Announcer) Announce(ctx context.Context, broadcasterLogin, message string) error {
	token, err := a.tokens.GetValidToken(ctx, a.accountID)
	if err != nil {
		return fmt.Errorf("failed to get announcement token: %w", err)
	}

	moderatorID, err := a.moderator(ctx, token)
	if err != nil {
		return err
	}

	broadcaster, err := a.api.GetUserByLogin(ctx, token, broadcasterLogin)
	if err != nil {
		return fmt.Errorf("failed to resolve broadcaster %q: %w", broadcasterLogin, err)
	}

	return a.api.SendAnnouncement(ctx, token, broadcaster.ID, moderatorID, message)
}

func (a *Announcer) moderator(ctx context.Context, token string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moderatorID != "" {
		return a.moderatorID, nil
	}

	user, err := a.api.GetCurrentUser(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to resolve announcing user: %w", err)
	}
	a.moderatorID = user.ID
	return a.moderatorID, nil
}
