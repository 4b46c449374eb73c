// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/i18n"
	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"codeberg.org/livesales/authcore/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AuthHandlers contains handlers for authentication.
type AuthHandlers struct {
	svc       *auth.Service
	transport session.Transport
	accessTTL time.Duration
	secure    bool
}

// NewAuth creates a new AuthHandlers instance. secure forces the Secure
// attribute on cookies cleared by these handlers.
func NewAuth(svc *auth.Service, transport session.Transport, accessTTL time.Duration, secure bool) *AuthHandlers {
	return &AuthHandlers{
		svc:       svc,
		transport: transport,
		accessTTL: accessTTL,
		secure:    secure,
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries the refresh token in body transport mode.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest is the body of change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// SessionResponse is returned whenever tokens are issued.
type SessionResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	ExpiresIn    int          `json:"expiresIn"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	CSRFToken    string       `json:"csrfToken,omitempty"`
}

// TwoFactorChallengeResponse asks the client for a second factor.
type TwoFactorChallengeResponse struct {
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TempToken         string `json:"tempToken"`
}

// UserResponse wraps a user.
type UserResponse struct {
	User *models.User `json:"user"`
}

// MessageResponse is a localized confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// CSRFResponse carries a CSRF token.
type CSRFResponse struct {
	CSRFToken string `json:"csrfToken"`
}

func (h *AuthHandlers) sessionResponse(c echo.Context, sess *auth.Session) (*SessionResponse, error) {
	bodyToken, err := h.transport.Write(c, sess.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{
		User:         sess.User,
		AccessToken:  sess.AccessToken,
		ExpiresIn:    int(h.accessTTL / time.Second),
		RefreshToken: bodyToken,
		CSRFToken:    sess.CSRFToken,
	}, nil
}

func message(c echo.Context, id string) MessageResponse {
	return MessageResponse{Message: i18n.T(c.Request().Context(), id)}
}

// Register creates an account and signs it in.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return validationError(c)
	}

	sess, err := h.svc.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := h.sessionResponse(c, sess)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login checks credentials and either issues tokens or asks for 2FA.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return validationError(c)
	}

	result, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	if result.RequiresTwoFactor {
		return c.JSON(http.StatusOK, TwoFactorChallengeResponse{
			RequiresTwoFactor: true,
			TempToken:         result.TempToken,
		})
	}

	resp, err := h.sessionResponse(c, result.Session)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh rotates the refresh token. Any failure clears the client's copy.
func (h *AuthHandlers) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil && !h.transport.UsesCookie() {
		return validationError(c)
	}

	raw := h.transport.Read(c, req.RefreshToken)
	sess, err := h.svc.Refresh(c.Request().Context(), raw)
	if err != nil {
		h.transport.Clear(c)
		return respondError(c, err)
	}

	resp, err := h.sessionResponse(c, sess)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes the session. It always succeeds for the client.
func (h *AuthHandlers) Logout(c echo.Context) error {
	var req RefreshRequest
	_ = c.Bind(&req)

	raw := h.transport.Read(c, req.RefreshToken)
	if err := h.svc.Logout(c.Request().Context(), raw, appcontext.From(c).Claims); err != nil {
		slog.Error("logout_failed", "error", err)
	}

	h.transport.Clear(c)
	if h.transport.UsesCookie() {
		csrf.ClearCookie(c, h.secure)
	}
	return c.JSON(http.StatusOK, message(c, "logged_out"))
}

// Me returns the authenticated user.
func (h *AuthHandlers) Me(c echo.Context) error {
	cc := appcontext.From(c)
	user, err := h.svc.Me(c.Request().Context(), cc.UserID())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, UserResponse{User: user})
}

// ChangePassword replaces the password and signs out other sessions.
func (h *AuthHandlers) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return validationError(c)
	}

	cc := appcontext.From(c)
	err := h.svc.ChangePassword(c.Request().Context(), cc.UserID(), cc.SessionID(), req.CurrentPassword, req.NewPassword)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message(c, "password_changed"))
}

// CSRFToken returns the double-submit token issued for this client.
func (h *AuthHandlers) CSRFToken(c echo.Context) error {
	return c.JSON(http.StatusOK, CSRFResponse{CSRFToken: csrf.GetToken(c)})
}

// RotateCSRF replaces the session-bound CSRF token.
func (h *AuthHandlers) RotateCSRF(c echo.Context) error {
	token, err := h.svc.RotateCSRF(c.Request().Context(), appcontext.From(c).SessionID())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, CSRFResponse{CSRFToken: token})
}
