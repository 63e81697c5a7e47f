package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshToken_SendsFormAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		assert.Equal(t, "cid", r.Form.Get("client_id"))

		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
			Scope:        []string{"chat:read"},
		})
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithAuthBaseURL(srv.URL))
	resp, err := client.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", resp.AccessToken)
	assert.Equal(t, "new-refresh", resp.RefreshToken)
	assert.Equal(t, 3600, resp.ExpiresIn)
}

func TestRefreshToken_UpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid refresh token"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithAuthBaseURL(srv.URL))
	_, err := client.RefreshToken(context.Background(), "bad")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCreateSubscription_SendsBearerAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eventsub/subscriptions", r.URL.Path)
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("Client-Id"))

		var params CreateSubscriptionParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "channel.follow", params.Type)
		assert.Equal(t, "websocket", params.Transport.Method)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(subscriptionListResponse{
			Data: []EventSubSubscription{{ID: "sub-1", Status: "enabled", Type: params.Type}},
		})
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithHelixBaseURL(srv.URL))
	sub, err := client.CreateSubscription(context.Background(), "app-token", CreateSubscriptionParams{
		Type:      "channel.follow",
		Version:   "2",
		Condition: map[string]string{"broadcaster_user_id": "123"},
		Transport: Transport{Method: "websocket", SessionID: "sess-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
}

func TestDeleteSubscription_PassesID(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		gotID = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithHelixBaseURL(srv.URL))
	require.NoError(t, client.DeleteSubscription(context.Background(), "tok", "sub-42"))
	assert.Equal(t, "sub-42", gotID)
}

func TestGetUserByLogin_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithHelixBaseURL(srv.URL))
	_, err := client.GetUserByLogin(context.Background(), "tok", "ghost")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestSendAnnouncement_BuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "123", r.URL.Query().Get("broadcaster_id"))
		assert.Equal(t, "456", r.URL.Query().Get("moderator_id"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "going live", body["message"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", WithHelixBaseURL(srv.URL))
	require.NoError(t, client.SendAnnouncement(context.Background(), "tok", "123", "456", "going live"))
}
