// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/testutil"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoFactorSetupFlow(t *testing.T) {
	h, stack := newAuthHandlers(t, config.RefreshTransportCookie, testutil.AuthOptions{})
	_, claims := signIn(t, stack)

	c, rec := newContext(http.MethodPost, "/api/auth/2fa/enable", "", claims)
	require.NoError(t, h.EnableTwoFactor(c))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	secret := body["secret"].(string)
	assert.True(t, strings.HasPrefix(body["qrCode"].(string), "data:image/png;base64,"))
	assert.Len(t, body["backupCodes"], 8)

	c, rec = newContext(http.MethodPost, "/api/auth/2fa/verify-setup", `{"secret":"`+secret+`","code":"abc"}`, claims)
	require.NoError(t, h.VerifyTwoFactorSetup(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_2FA_CODE", decode(t, rec)["code"])

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	c, rec = newContext(http.MethodPost, "/api/auth/2fa/verify-setup", `{"secret":"`+secret+`","code":"`+code+`"}`, claims)
	require.NoError(t, h.VerifyTwoFactorSetup(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["backupCodes"], 8)

	c, rec = newContext(http.MethodPost, "/api/auth/2fa/enable", "", claims)
	require.NoError(t, h.EnableTwoFactor(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "2FA_ALREADY_ENABLED", decode(t, rec)["code"])
}

func TestVerifyTwoFactorSetup_MissingFields(t *testing.T) {
	h, stack := newAuthHandlers(t, config.RefreshTransportCookie, testutil.AuthOptions{})
	_, claims := signIn(t, stack)

	c, rec := newContext(http.MethodPost, "/api/auth/2fa/verify-setup", `{"code":"123456"}`, claims)
	require.NoError(t, h.VerifyTwoFactorSetup(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
}

func TestDisableTwoFactor(t *testing.T) {
	h, stack := newAuthHandlers(t, config.RefreshTransportCookie, testutil.AuthOptions{})
	sess, claims := signIn(t, stack)

	c, rec := newContext(http.MethodPost, "/api/auth/2fa/disable", `{"password":"Correct-Horse-9","code":"123456"}`, claims)
	require.NoError(t, h.DisableTwoFactor(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "2FA_NOT_ENABLED", decode(t, rec)["code"])

	secret, _ := enableTwoFactor(t, stack, sess.User.ID)
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	c, rec = newContext(http.MethodPost, "/api/auth/2fa/disable", `{"password":"Wrong-Horse-9","code":"`+code+`"}`, claims)
	require.NoError(t, h.DisableTwoFactor(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_PASSWORD", decode(t, rec)["code"])

	c, rec = newContext(http.MethodPost, "/api/auth/2fa/disable", `{"password":"Correct-Horse-9","code":"ZZZZ-ZZZZ"}`, claims)
	require.NoError(t, h.DisableTwoFactor(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_2FA_CODE", decode(t, rec)["code"])

	c, rec = newContext(http.MethodPost, "/api/auth/2fa/disable", `{"password":"Correct-Horse-9","code":"`+code+`"}`, claims)
	require.NoError(t, h.DisableTwoFactor(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Two-factor authentication disabled", decode(t, rec)["message"])

	user, err := stack.Repo.GetUserByID(context.Background(), sess.User.ID)
	require.NoError(t, err)
	assert.False(t, user.TwoFactorEnabled)
	assert.Nil(t, user.TwoFactorSecret)
}
