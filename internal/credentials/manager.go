// Package credentials manages OAuth token pairs per logical account:
// code exchange, ahead-of-expiry refresh, and revocation.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/botforge/streamgate/internal/domain"
	apperrors "github.com/botforge/streamgate/internal/errors"
	"github.com/botforge/streamgate/internal/metrics"
	"github.com/botforge/streamgate/internal/twitchapi"
)

// refreshThreshold is how much remaining lifetime triggers a refresh.
const refreshThreshold = 300 * time.Second

// Status is the externally visible auth state of an account, so dependents
// can pause instead of retrying blindly against a revoked grant.
type Status string

const (
	StatusOK      Status = "ok"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

type tokenAPI interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*twitchapi.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*twitchapi.TokenResponse, error)
	RevokeToken(ctx context.Context, accessToken string) error
	GetCurrentUser(ctx context.Context, accessToken string) (*twitchapi.User, error)
}

// Manager is the credential manager. Reads are concurrent; refreshes for
// the same account are collapsed into a single upstream call.
type Manager struct {
	repo        domain.CredentialRepository
	api         tokenAPI
	clock       clockwork.Clock
	redirectURI string

	refreshGroup singleflight.Group

	mu       sync.RWMutex
	statuses map[uuid.UUID]Status
}

func NewManager(repo domain.CredentialRepository, api tokenAPI, redirectURI string, clock clockwork.Clock) *Manager {
	return &Manager{
		repo:        repo,
		api:         api,
		clock:       clock,
		redirectURI: redirectURI,
		statuses:    make(map[uuid.UUID]Status),
	}
}

// GetValidToken returns a usable access token for the account, refreshing
// it when the remaining lifetime is below the threshold. Concurrent callers
// share one refresh; every caller observes the complete new record.
func (m *Manager) GetValidToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	cred, err := m.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}

	if !cred.ExpiresWithin(m.clock.Now(), refreshThreshold) {
		return cred.AccessToken, nil
	}

	token, err, _ := m.refreshGroup.Do(accountID.String(), func() (any, error) {
		return m.refresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context, accountID uuid.UUID) (string, error) {
	// Re-read inside the flight: a refresh that completed while we were
	// queued behind the singleflight leader must not be repeated.
	cred, err := m.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !cred.ExpiresWithin(m.clock.Now(), refreshThreshold) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		m.setStatus(accountID, StatusExpired)
		metrics.TokenRefreshesTotal.WithLabelValues("expired").Inc()
		return "", domain.ErrExpiredCredential
	}

	resp, err := m.api.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		var apiErr *twitchapi.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnauthorized) {
			m.setStatus(accountID, StatusRevoked)
			metrics.TokenRefreshesTotal.WithLabelValues("revoked").Inc()
			slog.Warn("Token refresh rejected upstream", "account_id", accountID.String(), "status", apiErr.StatusCode)
			return "", fmt.Errorf("%w: %v", domain.ErrAuthRevoked, err)
		}
		metrics.TokenRefreshesTotal.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	expiry := m.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := m.repo.UpdateTokens(ctx, accountID, resp.AccessToken, resp.RefreshToken, expiry); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.setStatus(accountID, StatusOK)
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	slog.Info("Token refreshed", "account_id", accountID.String(), "expires_in_seconds", resp.ExpiresIn)
	return resp.AccessToken, nil
}

// ExchangeCode trades an authorization code for tokens and persists the
// resulting credential. The upstream response must carry an access token,
// an expiry, and at least one scope.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*domain.Credential, error) {
	resp, err := m.api.ExchangeCode(ctx, code, m.redirectURI)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	if err := validateTokenResponse(resp); err != nil {
		return nil, err
	}

	user, err := m.api.GetCurrentUser(ctx, resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token owner: %w", err)
	}

	cred := &domain.Credential{
		TwitchUserID: user.ID,
		Login:        user.Login,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenExpiry:  m.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scopes:       resp.Scope,
	}

	stored, err := m.repo.Upsert(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	m.setStatus(stored.AccountID, StatusOK)
	slog.Info("Credential created", "account_id", stored.AccountID.String(), "login", stored.Login)
	return stored, nil
}

func validateTokenResponse(resp *twitchapi.TokenResponse) error {
	missing := make([]string, 0, 3)
	if resp.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if resp.ExpiresIn <= 0 {
		missing = append(missing, "expires_in")
	}
	if len(resp.Scope) == 0 {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return apperrors.ValidationError(fmt.Sprintf("token response missing required fields: %v", missing))
	}
	return nil
}

// Revoke revokes the credential upstream (best effort) and always clears
// the local record.
func (m *Manager) Revoke(ctx context.Context, accountID uuid.UUID) error {
	cred, err := m.repo.Get(ctx, accountID)
	if err != nil {
		return err
	}

	if err := m.api.RevokeToken(ctx, cred.AccessToken); err != nil {
		slog.Warn("Upstream revocation failed, clearing local record anyway", "account_id", accountID.String(), "error", err)
	}

	if err := m.repo.Delete(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	m.setStatus(accountID, StatusRevoked)
	slog.Info("Credential revoked", "account_id", accountID.String())
	return nil
}

// Status reports the last observed auth state of the account.
func (m *Manager) Status(accountID uuid.UUID) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.statuses[accountID]; ok {
		return s
	}
	return StatusOK
}

func (m *Manager) setStatus(accountID uuid.UUID, s Status) {
	m.mu.Lock()
	m.statuses[accountID] = s
	m.mu.Unlock()
}
