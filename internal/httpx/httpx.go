// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package httpx holds response and request helpers shared by handlers and
// middleware.
package httpx

import (
	"net/http"
	"strings"

	"codeberg.org/livesales/authcore/internal/i18n"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed API call. Code is stable for
// clients; Error is a localized message for display.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error writes an ErrorResponse with a message localized from the code.
func Error(c echo.Context, status int, code string) error {
	return c.JSON(status, ErrorResponse{
		Error: i18n.T(c.Request().Context(), code),
		Code:  code,
	})
}

// IsSecureRequest reports whether the request reached us over HTTPS,
// directly or through a TLS-terminating proxy.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get(echo.HeaderXForwardedProto), "https")
}
