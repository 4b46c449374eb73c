// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package httpx_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/livesales/authcore/internal/httpx"
	"codeberg.org/livesales/authcore/internal/i18n"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestError(t *testing.T) {
	require.NoError(t, i18n.Init())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(i18n.WithLocale(req.Context(), language.English))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, httpx.Error(c, http.StatusUnauthorized, "INVALID_CREDENTIALS"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid email or password","code":"INVALID_CREDENTIALS"}`, rec.Body.String())
}

func TestError_Polish(t *testing.T) {
	require.NoError(t, i18n.Init())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(i18n.WithLocale(req.Context(), language.Polish))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, httpx.Error(c, http.StatusUnauthorized, "INVALID_CREDENTIALS"))

	assert.Contains(t, rec.Body.String(), `"code":"INVALID_CREDENTIALS"`)
	assert.NotContains(t, rec.Body.String(), "Invalid email or password")
}

func TestIsSecureRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, httpx.IsSecureRequest(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, httpx.IsSecureRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	assert.True(t, httpx.IsSecureRequest(req))
}
