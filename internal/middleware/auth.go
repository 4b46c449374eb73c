// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/httpx"
	"codeberg.org/livesales/authcore/internal/services/token"
	"github.com/labstack/echo/v4"
)

// AccessVerifier checks bearer access tokens.
type AccessVerifier interface {
	VerifyAccessToken(raw string) (*token.AccessClaims, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func withClaims(c echo.Context, claims *token.AccessClaims) *appcontext.Context {
	r := c.Request()
	c.SetRequest(r.WithContext(appcontext.WithClaims(r.Context(), claims)))
	cc := appcontext.From(c)
	cc.Claims = claims
	return cc
}

// RequireAuth rejects requests without a valid access token.
func RequireAuth(tokens AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				return httpx.Error(c, http.StatusUnauthorized, "ACCESS_TOKEN_REQUIRED")
			}

			claims, err := tokens.VerifyAccessToken(raw)
			if errors.Is(err, token.ErrTokenExpired) {
				return httpx.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED")
			}
			if err != nil {
				slog.Debug("access token rejected", "error", err, "ip", c.RealIP())
				return httpx.Error(c, http.StatusUnauthorized, "INVALID_ACCESS_TOKEN")
			}

			return next(withClaims(c, claims))
		}
	}
}

// OptionalAuth attaches claims when a valid access token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(tokens AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				return next(c)
			}
			claims, err := tokens.VerifyAccessToken(raw)
			if err != nil {
				return next(c)
			}
			return next(withClaims(c, claims))
		}
	}
}
