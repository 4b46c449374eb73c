// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/services/session"
	"codeberg.org/livesales/authcore/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validHashKey is a valid 32-byte hex-encoded key for testing
const validHashKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// validBlockKey is a valid 32-byte hex-encoded key for encryption testing
const validBlockKey = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"

const testToken = "header.payload.signature"

func newTestConfig() *config.CookieConfig {
	return &config.CookieConfig{HashKey: validHashKey}
}

func newManager(t *testing.T, cfg *config.CookieConfig, secure bool) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(cfg, "/api/auth", time.Hour, secure)
	require.NoError(t, err)
	return mgr
}

func TestNewManager(t *testing.T) {
	cfg := newTestConfig()
	cfg.BlockKey = validBlockKey

	mgr, err := session.NewManager(cfg, "/api/auth", time.Hour, true)

	require.NoError(t, err)
	assert.NotNil(t, mgr)
}

func TestNewManager_InvalidKeys(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CookieConfig
		wantErr string
	}{
		{"hash not hex", config.CookieConfig{HashKey: "not-hex-encoded"}, "invalid session hash key"},
		{"hash too short", config.CookieConfig{HashKey: "0123456789abcdef"}, "must be 32 bytes"},
		{"block not hex", config.CookieConfig{HashKey: validHashKey, BlockKey: "zz"}, "invalid session block key"},
		{"block too short", config.CookieConfig{HashKey: validHashKey, BlockKey: "0123456789abcdef"}, "must be 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.NewManager(&tt.cfg, "/", time.Hour, false)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewManager_DevMode_GeneratesKey(t *testing.T) {
	mgr, err := session.NewManager(&config.CookieConfig{}, "", time.Hour, false)

	require.NoError(t, err)
	cookie, err := mgr.Create(nil, testToken)
	require.NoError(t, err)
	assert.Equal(t, "/", cookie.Path)
}

func TestCreate(t *testing.T) {
	mgr := newManager(t, newTestConfig(), false)

	cookie, err := mgr.Create(httptest.NewRequest(http.MethodPost, "/", nil), testToken)

	require.NoError(t, err)
	assert.Equal(t, session.CookieName, cookie.Name)
	assert.NotEqual(t, testToken, cookie.Value)
	assert.Equal(t, "/api/auth", cookie.Path)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
}

func TestCreate_SecureMode(t *testing.T) {
	mgr := newManager(t, newTestConfig(), true)

	cookie, err := mgr.Create(nil, testToken)

	require.NoError(t, err)
	assert.True(t, cookie.Secure)
}

func TestCreate_ForwardedHTTPS(t *testing.T) {
	mgr := newManager(t, newTestConfig(), false)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(echo.HeaderXForwardedProto, "https")

	cookie, err := mgr.Create(req, testToken)

	require.NoError(t, err)
	assert.True(t, cookie.Secure)
}

func TestParse(t *testing.T) {
	cfg := newTestConfig()
	cfg.BlockKey = validBlockKey
	mgr := newManager(t, cfg, false)

	cookie, err := mgr.Create(nil, testToken)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookie)

	assert.Equal(t, testToken, mgr.Parse(req))
}

func TestParse_Rejected(t *testing.T) {
	mgr := newManager(t, newTestConfig(), false)
	valid, err := mgr.Create(nil, testToken)
	require.NoError(t, err)

	other := newManager(t, &config.CookieConfig{HashKey: validBlockKey}, false)

	tests := []struct {
		name   string
		cookie *http.Cookie
		mgr    *session.Manager
	}{
		{"no cookie", nil, mgr},
		{"garbage", &http.Cookie{Name: session.CookieName, Value: "invalid-cookie-value"}, mgr},
		{"tampered", &http.Cookie{Name: session.CookieName, Value: valid.Value[:len(valid.Value)-5] + "XXXXX"}, mgr},
		{"raw token", &http.Cookie{Name: session.CookieName, Value: testToken}, mgr},
		{"different key", valid, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}

			assert.Empty(t, tt.mgr.Parse(req))
		})
	}
}

func TestParse_Expired(t *testing.T) {
	mgr, err := session.NewManager(newTestConfig(), "/", time.Second, false)
	require.NoError(t, err)

	cookie, err := mgr.Create(nil, testToken)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookie)
	assert.Empty(t, mgr.Parse(req))
}

func TestClear(t *testing.T) {
	mgr := newManager(t, newTestConfig(), true)

	cookie := mgr.Clear(nil)

	assert.Equal(t, session.CookieName, cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, "/api/auth", cookie.Path)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
}

func TestNewTransport(t *testing.T) {
	mgr := newManager(t, newTestConfig(), false)

	cookieT, err := session.NewTransport(config.RefreshTransportCookie, mgr)
	require.NoError(t, err)
	assert.True(t, cookieT.UsesCookie())

	bodyT, err := session.NewTransport(config.RefreshTransportBody, nil)
	require.NoError(t, err)
	assert.False(t, bodyT.UsesCookie())

	_, err = session.NewTransport("header", mgr)
	require.ErrorIs(t, err, session.ErrUnknownTransport)

	_, err = session.NewTransport(config.RefreshTransportCookie, nil)
	require.Error(t, err)
}

func TestCookieTransport(t *testing.T) {
	mgr := newManager(t, newTestConfig(), false)
	tr, err := session.NewTransport(config.RefreshTransportCookie, mgr)
	require.NoError(t, err)
	e := echo.New()

	c, rec := testutil.NewEchoContext(e, http.MethodPost, "/api/auth/login", nil)
	bodyValue, err := tr.Write(c, testToken)
	require.NoError(t, err)
	assert.Empty(t, bodyValue, "cookie mode never exposes the token in the body")

	cookie := testutil.FindCookie(rec, session.CookieName)
	require.NotNil(t, cookie)

	c, _ = testutil.NewEchoContext(e, http.MethodPost, "/api/auth/refresh", nil)
	c.Request().AddCookie(cookie)
	assert.Equal(t, testToken, tr.Read(c, "ignored-body-token"))

	c, rec = testutil.NewEchoContext(e, http.MethodPost, "/api/auth/logout", nil)
	tr.Clear(c)
	cleared := testutil.FindCookie(rec, session.CookieName)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestBodyTransport(t *testing.T) {
	tr, err := session.NewTransport(config.RefreshTransportBody, nil)
	require.NoError(t, err)
	e := echo.New()
	c, rec := testutil.NewEchoContext(e, http.MethodPost, "/", nil)

	bodyValue, err := tr.Write(c, testToken)
	require.NoError(t, err)
	assert.Equal(t, testToken, bodyValue)
	assert.Empty(t, rec.Result().Cookies())

	assert.Equal(t, "from-body", tr.Read(c, "from-body"))
	tr.Clear(c)
	assert.Empty(t, rec.Result().Cookies())
}
