package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/botforge/streamgate/internal/domain"
	apperrors "github.com/botforge/streamgate/internal/errors"
)

func (s *Server) registerAuthRoutes() {
	s.echo.POST("/auth/exchange", s.handleExchangeCode)
	s.echo.GET("/auth/credentials/:account_id/status", s.handleCredentialStatus)
	s.echo.DELETE("/auth/credentials/:account_id", s.handleRevokeCredential)
}

type exchangeCodeRequest struct {
	Code string `json:"code"`
}

type credentialResponse struct {
	AccountID   string    `json:"account_id"`
	Login       string    `json:"login"`
	Scopes      []string  `json:"scopes"`
	TokenExpiry time.Time `json:"token_expiry"`
}

func (s *Server) handleExchangeCode(c echo.Context) error {
	var req exchangeCodeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Code == "" {
		return apperrors.ValidationError("code is required")
	}

	cred, err := s.credentials.ExchangeCode(c.Request().Context(), req.Code)
	if err != nil {
		var structured *apperrors.Error
		if errors.As(err, &structured) {
			return structured
		}
		return apperrors.ExternalError("code exchange failed", err)
	}

	response := credentialResponse{
		AccountID:   cred.AccountID.String(),
		Login:       cred.Login,
		Scopes:      cred.Scopes,
		TokenExpiry: cred.TokenExpiry,
	}
	if err := c.JSON(http.StatusCreated, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCredentialStatus(c echo.Context) error {
	accountID, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		return apperrors.ValidationError("invalid account id").WithContext("account_id", c.Param("account_id"))
	}

	status := s.credentials.Status(accountID)
	response := map[string]string{
		"account_id": accountID.String(),
		"status":     string(status),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRevokeCredential(c echo.Context) error {
	accountID, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		return apperrors.ValidationError("invalid account id").WithContext("account_id", c.Param("account_id"))
	}

	err = s.credentials.Revoke(c.Request().Context(), accountID)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return apperrors.NotFoundError("credential not found").WithContext("account_id", accountID.String())
	}
	if err != nil {
		return apperrors.InternalError("failed to revoke credential", err).WithContext("account_id", accountID.String())
	}

	return c.NoContent(http.StatusNoContent)
}
