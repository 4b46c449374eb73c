// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package csrf implements two CSRF defenses: a stateless double-submit
// cookie and an optional token bound to the authenticated session in Redis.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/livesales/authcore/internal/httpx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	// CookieName is the double-submit cookie. It is readable by scripts so the
	// client can echo it in HeaderName.
	CookieName = "csrf_token"
	// HeaderName carries the token on state-changing requests.
	HeaderName = "X-CSRF-Token"
	// ContextKey holds the current double-submit token in the echo context.
	ContextKey = "csrf"

	tokenBytes   = 32
	cookieMaxAge = 3600

	// SessionTTL bounds the lifetime of a session-bound token.
	SessionTTL = 24 * time.Hour
)

// ErrNoSessionToken means the session has no stored token.
var ErrNoSessionToken = errors.New("no csrf token for session")

// GenerateToken returns 32 random bytes, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GetToken returns the double-submit token attached by DoubleSubmit.
func GetToken(c echo.Context) string {
	if token, ok := c.Get(ContextKey).(string); ok {
		return token
	}
	return ""
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newCookie(c echo.Context, value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   secure || httpx.IsSecureRequest(c.Request()),
		SameSite: http.SameSiteStrictMode,
	}
}

func doubleSubmitConfig(secure bool) middleware.CSRFConfig {
	return middleware.CSRFConfig{
		TokenLookup:    "header:" + HeaderName,
		ContextKey:     ContextKey,
		CookieName:     CookieName,
		CookiePath:     "/",
		CookieMaxAge:   cookieMaxAge,
		CookieSecure:   secure,
		CookieHTTPOnly: false,
		CookieSameSite: http.SameSiteStrictMode,
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, middleware.ErrCSRFInvalid) {
				logFailure(c, "token mismatch")
				return httpx.Error(c, http.StatusForbidden, "CSRF_TOKEN_INVALID")
			}
			logFailure(c, "missing header")
			return httpx.Error(c, http.StatusForbidden, "CSRF_TOKEN_REQUIRED")
		},
	}
}

// DoubleSubmit issues a token cookie and requires unsafe methods to echo it
// in the X-CSRF-Token header. The header is required for every client:
// Sec-Fetch-Site is ignored.
func DoubleSubmit(secure bool) echo.MiddlewareFunc {
	plain := middleware.CSRFWithConfig(doubleSubmitConfig(secure))
	secured := middleware.CSRFWithConfig(doubleSubmitConfig(true))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		expose := func(c echo.Context) error {
			c.Response().Header().Set(HeaderName, GetToken(c))
			return next(c)
		}
		plainNext, securedNext := plain(expose), secured(expose)

		return func(c echo.Context) error {
			c.Request().Header.Del(echo.HeaderSecFetchSite)
			if httpx.IsSecureRequest(c.Request()) {
				return securedNext(c)
			}
			return plainNext(c)
		}
	}
}

// ClearCookie expires the double-submit cookie.
func ClearCookie(c echo.Context, secure bool) {
	c.SetCookie(newCookie(c, "", -1, secure))
}

func logFailure(c echo.Context, reason string) {
	r := c.Request()
	slog.Warn("csrf_failure",
		"reason", reason,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", c.RealIP(),
		"user_agent", r.UserAgent(),
	)
}

// SessionStore keeps one token per session in Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a store with the default 24h TTL.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, ttl: SessionTTL}
}

func sessionKey(sessionID string) string {
	return "csrf:" + sessionID
}

// Create generates and stores a fresh token for the session.
func (s *SessionStore) Create(ctx context.Context, sessionID string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), token, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// Get returns the stored token or ErrNoSessionToken.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSessionToken
	}
	if err != nil {
		return "", fmt.Errorf("load csrf token: %w", err)
	}
	return token, nil
}

// Rotate replaces the session's token.
func (s *SessionStore) Rotate(ctx context.Context, sessionID string) (string, error) {
	return s.Create(ctx, sessionID)
}

// Delete removes the session's token.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete csrf token: %w", err)
	}
	return nil
}

// SessionProtect validates the header token against the one stored for the
// caller's session. Requests without a session pass through; a store error
// fails closed.
func SessionProtect(store *SessionStore, sessionID func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if safeMethod(c.Request().Method) {
				return next(c)
			}
			sid := sessionID(c)
			if sid == "" {
				return next(c)
			}

			header := c.Request().Header.Get(HeaderName)
			if header == "" {
				logFailure(c, "missing session token")
				return httpx.Error(c, http.StatusForbidden, "CSRF_TOKEN_MISSING")
			}

			stored, err := store.Get(c.Request().Context(), sid)
			switch {
			case errors.Is(err, ErrNoSessionToken):
				logFailure(c, "session token expired")
				return httpx.Error(c, http.StatusForbidden, "CSRF_SESSION_EXPIRED")
			case err != nil:
				slog.Error("csrf_store_error", "error", err, "session_id", sid)
				return httpx.Error(c, http.StatusForbidden, "CSRF_ERROR")
			}

			if !tokensEqual(header, stored) {
				logFailure(c, "session token mismatch")
				return httpx.Error(c, http.StatusForbidden, "CSRF_TOKEN_INVALID")
			}
			return next(c)
		}
	}
}
