// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session carries refresh tokens between server and client, either
// in a sealed HttpOnly cookie or in the JSON body.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/httpx"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
)

// CookieName is the refresh token cookie.
const CookieName = "refreshToken"

// Manager seals refresh tokens into cookies using gorilla/securecookie.
type Manager struct {
	sc     *securecookie.SecureCookie
	path   string
	maxAge int
	secure bool
}

// NewManager creates a cookie manager scoped to path (the auth route group).
// An empty hash key is replaced by a random one, which invalidates cookies
// on restart.
func NewManager(cfg *config.CookieConfig, path string, maxAge time.Duration, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey, "hash")
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		hashKey = make([]byte, 32)
		if _, err := rand.Read(hashKey); err != nil {
			return nil, fmt.Errorf("generate session hash key: %w", err)
		}
	}

	blockKey, err := decodeKey(cfg.BlockKey, "block")
	if err != nil {
		return nil, err
	}

	seconds := int(maxAge / time.Second)
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(seconds)

	if path == "" {
		path = "/"
	}

	return &Manager{
		sc:     sc,
		path:   path,
		maxAge: seconds,
		secure: secure,
	}, nil
}

func decodeKey(value, name string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid session %s key: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid session %s key: must be 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

func (m *Manager) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     m.path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure || (r != nil && httpx.IsSecureRequest(r)),
		SameSite: http.SameSiteStrictMode,
	}
}

// Create seals token into a refresh cookie.
func (m *Manager) Create(r *http.Request, token string) (*http.Cookie, error) {
	encoded, err := m.sc.Encode(CookieName, token)
	if err != nil {
		return nil, fmt.Errorf("encode refresh cookie: %w", err)
	}
	return m.cookie(r, encoded, m.maxAge), nil
}

// Parse returns the refresh token from the request cookie. A missing,
// tampered or expired cookie yields "".
func (m *Manager) Parse(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	var token string
	if err := m.sc.Decode(CookieName, c.Value, &token); err != nil {
		return ""
	}
	return token
}

// Clear returns a cookie that removes the refresh cookie.
func (m *Manager) Clear(r *http.Request) *http.Cookie {
	return m.cookie(r, "", -1)
}

// Transport reads and writes the refresh token for one request.
type Transport interface {
	// Read returns the presented refresh token or "".
	Read(c echo.Context, bodyToken string) string
	// Write delivers token to the client. The returned string goes into the
	// JSON body and is empty when the token travels out of band.
	Write(c echo.Context, token string) (string, error)
	// Clear removes any client-side copy.
	Clear(c echo.Context)
	// UsesCookie reports whether the token travels in a cookie, which makes
	// the refresh endpoints subject to CSRF checks.
	UsesCookie() bool
}

// ErrUnknownTransport is returned for an unsupported transport mode.
var ErrUnknownTransport = errors.New("unknown refresh token transport")

// NewTransport returns the transport for mode.
func NewTransport(mode string, mgr *Manager) (Transport, error) {
	switch mode {
	case config.RefreshTransportCookie:
		if mgr == nil {
			return nil, errors.New("cookie transport requires a session manager")
		}
		return &CookieTransport{mgr: mgr}, nil
	case config.RefreshTransportBody:
		return BodyTransport{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, mode)
	}
}

// CookieTransport keeps the refresh token in an HttpOnly cookie.
type CookieTransport struct {
	mgr *Manager
}

func (t *CookieTransport) Read(c echo.Context, _ string) string {
	return t.mgr.Parse(c.Request())
}

func (t *CookieTransport) Write(c echo.Context, token string) (string, error) {
	cookie, err := t.mgr.Create(c.Request(), token)
	if err != nil {
		return "", err
	}
	c.SetCookie(cookie)
	return "", nil
}

func (t *CookieTransport) Clear(c echo.Context) {
	c.SetCookie(t.mgr.Clear(c.Request()))
}

func (t *CookieTransport) UsesCookie() bool { return true }

// BodyTransport exchanges the refresh token in JSON bodies.
type BodyTransport struct{}

func (BodyTransport) Read(_ echo.Context, bodyToken string) string { return bodyToken }

func (BodyTransport) Write(_ echo.Context, token string) (string, error) { return token, nil }

func (BodyTransport) Clear(echo.Context) {}

func (BodyTransport) UsesCookie() bool { return false }
