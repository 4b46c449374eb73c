// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"github.com/labstack/echo/v4"
)

// UserHandlers manage per-user settings.
type UserHandlers struct {
	svc *auth.Service
}

// NewUser creates a new UserHandlers instance.
func NewUser(svc *auth.Service) *UserHandlers {
	return &UserHandlers{svc: svc}
}

// IntegrationTokenRequest carries a BaseLinker API token.
type IntegrationTokenRequest struct {
	Token string `json:"token"`
}

// IntegrationTokenResponse returns the stored token, null if none.
type IntegrationTokenResponse struct {
	Token *string `json:"token"`
}

// SaveBaselinkerToken stores the token encrypted.
func (h *UserHandlers) SaveBaselinkerToken(c echo.Context) error {
	var req IntegrationTokenRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}

	if err := h.svc.SaveIntegrationToken(c.Request().Context(), appcontext.From(c).UserID(), req.Token); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message(c, "integration_token_saved"))
}

// GetBaselinkerToken returns the decrypted token.
func (h *UserHandlers) GetBaselinkerToken(c echo.Context) error {
	token, err := h.svc.GetIntegrationToken(c.Request().Context(), appcontext.From(c).UserID())
	if err != nil {
		return respondError(c, err)
	}

	var resp IntegrationTokenResponse
	if token != "" {
		resp.Token = &token
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteBaselinkerToken removes the token.
func (h *UserHandlers) DeleteBaselinkerToken(c echo.Context) error {
	if err := h.svc.DeleteIntegrationToken(c.Request().Context(), appcontext.From(c).UserID()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message(c, "integration_token_deleted"))
}
