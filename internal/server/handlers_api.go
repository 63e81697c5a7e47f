package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/botforge/streamgate/internal/domain"
	apperrors "github.com/botforge/streamgate/internal/errors"
	"github.com/botforge/streamgate/internal/twitchapi"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 500
)

func (s *Server) registerAPIRoutes() {
	s.echo.POST("/api/chat/message", s.handleSendChatMessage)
	s.echo.POST("/api/chat/announcement", s.handleSendAnnouncement)
	s.echo.GET("/api/events", s.handleListEvents)
	s.echo.GET("/api/subscriptions", s.handleListSubscriptions)
	s.echo.DELETE("/api/subscriptions/:id", s.handleDeleteSubscription)
}

type sendChatMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (s *Server) handleSendChatMessage(c echo.Context) error {
	var req sendChatMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Channel == "" || req.Text == "" {
		return apperrors.ValidationError("channel and text are required")
	}

	if err := s.chat.SendMessage(req.Channel, req.Text); err != nil {
		return apperrors.TransportError("failed to enqueue chat message", err).
			WithContext("channel", req.Channel)
	}

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "queued"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type sendAnnouncementRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (s *Server) handleSendAnnouncement(c echo.Context) error {
	var req sendAnnouncementRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Channel == "" || req.Text == "" {
		return apperrors.ValidationError("channel and text are required")
	}

	err := s.announcements.Announce(c.Request().Context(), req.Channel, req.Text)
	var apiErr *twitchapi.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return apperrors.NotFoundError("unknown channel").WithContext("channel", req.Channel)
	}
	if err != nil {
		return apperrors.ExternalError("failed to send announcement", err).
			WithContext("channel", req.Channel)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "sent"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type eventResponse struct {
	DedupKey   string          `json:"dedup_key"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (s *Server) handleListEvents(c echo.Context) error {
	limit := defaultEventListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return apperrors.ValidationError("limit must be a positive integer").WithContext("limit", raw)
		}
		limit = min(parsed, maxEventListLimit)
	}

	events, err := s.events.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return apperrors.InternalError("failed to list events", err)
	}

	response := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		response = append(response, eventResponse{
			DedupKey:   ev.DedupKey,
			Type:       ev.Type,
			Source:     ev.Source,
			Payload:    json.RawMessage(ev.Payload),
			ReceivedAt: ev.ReceivedAt,
		})
	}

	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type subscriptionResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport string            `json:"transport"`
	SessionID string            `json:"session_id,omitempty"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Server) handleListSubscriptions(c echo.Context) error {
	subs, err := s.subscriptions.List(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to list subscriptions", err)
	}

	response := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		response = append(response, subscriptionResponse{
			ID:        sub.ID,
			Type:      sub.Type,
			Version:   sub.Version,
			Condition: sub.Condition,
			Transport: sub.Transport,
			SessionID: sub.SessionID,
			Status:    sub.Status,
			CreatedAt: sub.CreatedAt,
		})
	}

	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteSubscription(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperrors.ValidationError("subscription id is required")
	}

	err := s.subscriptions.Delete(c.Request().Context(), id)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return apperrors.NotFoundError("subscription not found").WithContext("subscription_id", id)
	}
	if err != nil {
		return apperrors.InternalError("failed to delete subscription", err).WithContext("subscription_id", id)
	}

	return c.NoContent(http.StatusNoContent)
}
