// Package twitchapi is a minimal client for the upstream REST surface the
// gateway needs: the OAuth token endpoint, EventSub subscription management,
// chat sends, and user lookup. Nothing else of the API is wrapped.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthBaseURL  = "https://id.twitch.tv/oauth2"
	defaultHelixBaseURL = "https://api.twitch.tv/helix"
	requestTimeout      = 10 * time.Second
)

// APIError carries the upstream status code so callers can classify
// failures (retry, rate limit, permanent).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api error: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the upstream auth and Helix endpoints.
// AuthBaseURL and HelixBaseURL are configurable for testing.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	authBaseURL  string
	helixBaseURL string
}

type Option func(*Client)

// WithAuthBaseURL overrides the OAuth endpoint base (testing).
func WithAuthBaseURL(u string) Option {
	return func(c *Client) { c.authBaseURL = strings.TrimRight(u, "/") }
}

// WithHelixBaseURL overrides the Helix endpoint base (testing).
func WithHelixBaseURL(u string) Option {
	return func(c *Client) { c.helixBaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying http client (testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		clientID:     clientID,
		clientSecret: clientSecret,
		authBaseURL:  defaultAuthBaseURL,
		helixBaseURL: defaultHelixBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenResponse is the upstream token endpoint payload for both the
// authorization-code exchange and the refresh grant.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	return c.postTokenForm(ctx, data)
}

// RefreshToken trades a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.postTokenForm(ctx, data)
}

// RevokeToken revokes an access token upstream.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+"/revoke", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func (c *Client) postTokenForm(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+"/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result TokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &result, nil
}

// EventSubSubscription is the upstream representation of a subscription.
type EventSubSubscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// Transport describes where a subscription delivers.
type Transport struct {
	Method    string `json:"method"`
	Callback  string `json:"callback,omitempty"`
	Secret    string `json:"secret,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type CreateSubscriptionParams struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

type subscriptionListResponse struct {
	Data []EventSubSubscription `json:"data"`
}

// CreateSubscription registers an EventSub subscription.
func (c *Client) CreateSubscription(ctx context.Context, accessToken string, params CreateSubscriptionParams) (*EventSubSubscription, error) {
	var out subscriptionListResponse
	if err := c.helixRequest(ctx, http.MethodPost, "/eventsub/subscriptions", accessToken, params, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("no subscription returned")
	}
	return &out.Data[0], nil
}

// ListSubscriptions returns all subscriptions owned by the client.
func (c *Client) ListSubscriptions(ctx context.Context, accessToken string) ([]EventSubSubscription, error) {
	var out subscriptionListResponse
	if err := c.helixRequest(ctx, http.MethodGet, "/eventsub/subscriptions", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteSubscription removes an EventSub subscription by ID.
func (c *Client) DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	path := "/eventsub/subscriptions?id=" + url.QueryEscape(subscriptionID)
	return c.helixRequest(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetCurrentUser returns the user that owns the given access token.
func (c *Client) GetCurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var out struct {
		Data []User `json:"data"`
	}
	if err := c.helixRequest(ctx, http.MethodGet, "/users", accessToken, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "token owner not found"}
	}
	return &out.Data[0], nil
}

// GetUserByLogin looks up one user by login name.
func (c *Client) GetUserByLogin(ctx context.Context, accessToken, login string) (*User, error) {
	var out struct {
		Data []User `json:"data"`
	}
	path := "/users?login=" + url.QueryEscape(login)
	if err := c.helixRequest(ctx, http.MethodGet, path, accessToken, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "user not found: " + login}
	}
	return &out.Data[0], nil
}

// SendAnnouncement posts a highlighted announcement to a broadcaster's chat.
func (c *Client) SendAnnouncement(ctx context.Context, accessToken, broadcasterID, moderatorID, message string) error {
	path := fmt.Sprintf("/chat/announcements?broadcaster_id=%s&moderator_id=%s",
		url.QueryEscape(broadcasterID), url.QueryEscape(moderatorID))
	body := map[string]string{"message": message}
	return c.helixRequest(ctx, http.MethodPost, path, accessToken, body, nil)
}

func (c *Client) helixRequest(ctx context.Context, method, path, accessToken string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.helixBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", c.clientID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
