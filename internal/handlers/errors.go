// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/livesales/authcore/internal/httpx"
	"codeberg.org/livesales/authcore/internal/i18n"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"github.com/labstack/echo/v4"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{auth.ErrUserExists, http.StatusConflict, "USER_EXISTS"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{auth.ErrAccountDeactivated, http.StatusForbidden, "ACCOUNT_DEACTIVATED"},
	{auth.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{auth.ErrInvalidTempToken, http.StatusUnauthorized, "INVALID_TEMP_TOKEN"},
	{auth.ErrInvalid2FACode, http.StatusUnauthorized, "INVALID_2FA_CODE"},
	{auth.ErrNoRefreshToken, http.StatusUnauthorized, "NO_REFRESH_TOKEN"},
	{auth.ErrRefreshFailed, http.StatusUnauthorized, "REFRESH_ERROR"},
	{auth.ErrRefreshTokenRevoked, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN"},
	{auth.ErrInvalidCurrentPassword, http.StatusUnauthorized, "INVALID_CURRENT_PASSWORD"},
	{auth.ErrInvalidPassword, http.StatusUnauthorized, "INVALID_PASSWORD"},
	{auth.ErrTwoFactorAlreadyEnabled, http.StatusBadRequest, "2FA_ALREADY_ENABLED"},
	{auth.ErrTwoFactorNotEnabled, http.StatusBadRequest, "2FA_NOT_ENABLED"},
	{auth.ErrInvalidIntegrationToken, http.StatusBadRequest, "INVALID_TOKEN"},
	{auth.ErrCSRFDisabled, http.StatusNotFound, "CSRF_DISABLED"},
}

// ValidationResponse is an error body listing the failed rules.
type ValidationResponse struct {
	httpx.ErrorResponse
	Details []string `json:"details,omitempty"`
}

// respondError maps a service error to a JSON error response. Unknown errors
// become 500 INTERNAL_ERROR and are logged with their cause.
func respondError(c echo.Context, err error) error {
	var verr *auth.PasswordValidationError
	if errors.As(err, &verr) {
		ctx := c.Request().Context()
		details := make([]string, len(verr.Errors))
		for i, e := range verr.Errors {
			details[i] = i18n.TData(ctx, e.Code, e.Data)
		}
		return validationError(c, details...)
	}
	if errors.Is(err, auth.ErrInvalidEmail) {
		return validationError(c, i18n.T(c.Request().Context(), "INVALID_EMAIL"))
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return httpx.Error(c, m.status, m.code)
		}
	}

	slog.Error("request_failed",
		"error", err,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
	)
	return httpx.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR")
}

func validationError(c echo.Context, details ...string) error {
	code := "VALIDATION_ERROR"
	return c.JSON(http.StatusBadRequest, ValidationResponse{
		ErrorResponse: httpx.ErrorResponse{
			Error: i18n.T(c.Request().Context(), code),
			Code:  code,
		},
		Details: details,
	})
}
