// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"codeberg.org/livesales/authcore/internal/services/token"
	"codeberg.org/livesales/authcore/internal/testutil"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "Correct-Horse-9"
)

func register(t *testing.T, stack *testutil.AuthStack) *auth.Session {
	t.Helper()
	sess, err := stack.Service.Register(context.Background(), aliceEmail, alicePassword)
	require.NoError(t, err)
	return sess
}

// enableTwoFactor returns the TOTP secret and the issued backup codes.
func enableTwoFactor(t *testing.T, stack *testutil.AuthStack, userID int64) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := stack.Service.BeginTwoFactorSetup(ctx, userID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	backupCodes, err := stack.Service.VerifyTwoFactorSetup(ctx, userID, setup.Secret, code)
	require.NoError(t, err)
	return setup.Secret, backupCodes
}

func TestRegister(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	ctx := appcontext.WithMeta(context.Background(), appcontext.Meta{IP: "203.0.113.7", UserAgent: "test"})

	sess, err := stack.Service.Register(ctx, "  Alice@Example.com ", alicePassword)

	require.NoError(t, err)
	assert.Equal(t, aliceEmail, sess.User.Email)
	assert.Equal(t, models.RoleUser, sess.User.Role)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Empty(t, sess.CSRFToken)

	claims, err := stack.Tokens.VerifyAccessToken(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.UserID)
	assert.Equal(t, sess.SessionID, claims.SessionID)

	record, err := stack.Repo.GetRefreshTokenByHash(ctx, token.Hash(sess.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, record.SessionID)

	user, err := stack.Repo.GetUserByID(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, alicePassword, user.PasswordHash)
	assert.NotNil(t, user.LastLoginAt)

	entries, err := stack.Repo.ListAuditLogs(ctx, sess.User.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditLogin, entries[0].Action)
	assert.Equal(t, models.AuditRegister, entries[1].Action)
	assert.Equal(t, "203.0.113.7", entries[1].IPAddress)
}

func TestRegister_Duplicate(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	register(t, stack)

	_, err := stack.Service.Register(context.Background(), "ALICE@example.com", alicePassword)

	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestRegister_Validation(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	ctx := context.Background()

	_, err := stack.Service.Register(ctx, "not-an-email", alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = stack.Service.Register(ctx, "Bob <bob@example.com>", alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = stack.Service.Register(ctx, aliceEmail, "short")
	var verr *auth.PasswordValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Codes(), auth.CodeMinLength)

	exists, err := stack.Repo.UserExists(ctx, aliceEmail)
	require.NoError(t, err)
	assert.False(t, exists, "nothing is stored when validation fails")
}

func TestLogin(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	register(t, stack)

	result, err := stack.Service.Login(context.Background(), "ALICE@example.com", alicePassword)

	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.False(t, result.RequiresTwoFactor)
	assert.Equal(t, aliceEmail, result.Session.User.Email)

	claims, err := stack.Tokens.VerifyAccessToken(result.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.SessionID, claims.SessionID)
}

func TestLogin_Failures(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	sess := register(t, stack)
	ctx := context.Background()

	_, err := stack.Service.Login(ctx, aliceEmail, "Wrong-Password-1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = stack.Service.Login(ctx, "nobody@example.com", alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "unknown email is indistinguishable")

	require.NoError(t, stack.Repo.SetUserActive(ctx, sess.User.ID, false))
	_, err = stack.Service.Login(ctx, aliceEmail, "Wrong-Password-1")
	assert.ErrorIs(t, err, auth.ErrAccountDeactivated)

	entries, err := stack.Repo.ListAuditLogs(ctx, sess.User.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, models.AuditLoginFailed, entries[0].Action)
	assert.False(t, entries[0].Success)
	require.NotNil(t, entries[0].ErrorMessage)
}

func TestLogin_SessionCSRF(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{SessionCSRF: true})
	register(t, stack)

	result, err := stack.Service.Login(context.Background(), aliceEmail, alicePassword)

	require.NoError(t, err)
	require.NotEmpty(t, result.Session.CSRFToken)
	stored, err := stack.CSRF.Get(context.Background(), result.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, result.Session.CSRFToken, stored)
	assert.True(t, stack.Service.SessionCSRFEnabled())
}

func TestMe(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	sess := register(t, stack)
	ctx := context.Background()

	user, err := stack.Service.Me(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceEmail, user.Email)

	_, err = stack.Service.Me(ctx, 999)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	require.NoError(t, stack.Repo.SetUserActive(ctx, sess.User.ID, false))
	_, err = stack.Service.Me(ctx, sess.User.ID)
	assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
}

func TestChangePassword(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	first := register(t, stack)
	ctx := context.Background()

	second, err := stack.Service.Login(ctx, aliceEmail, alicePassword)
	require.NoError(t, err)

	err = stack.Service.ChangePassword(ctx, first.User.ID, first.SessionID, "Wrong-Password-1", "New-Horse-Staple-7")
	require.ErrorIs(t, err, auth.ErrInvalidCurrentPassword)

	err = stack.Service.ChangePassword(ctx, first.User.ID, first.SessionID, alicePassword, "weak")
	var verr *auth.PasswordValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, stack.Service.ChangePassword(ctx, first.User.ID, first.SessionID, alicePassword, "New-Horse-Staple-7"))

	_, err = stack.Service.Login(ctx, aliceEmail, alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = stack.Service.Login(ctx, aliceEmail, "New-Horse-Staple-7")
	require.NoError(t, err)

	// The caller's session survives, the other one is revoked.
	_, err = stack.Service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	_, err = stack.Service.Refresh(ctx, second.Session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenRevoked)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	sess := register(t, stack)
	ctx := context.Background()

	rotated, err := stack.Service.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, sess.SessionID, rotated.SessionID)
	assert.Equal(t, aliceEmail, rotated.User.Email)

	_, err = stack.Service.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshTokenRevoked, "a rotated token is single use")

	// Without revoke-all the successor keeps working.
	_, err = stack.Service.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)

	entries, err := stack.Repo.ListAuditLogs(ctx, sess.User.ID, 10)
	require.NoError(t, err)
	var reuse bool
	for _, e := range entries {
		if e.Action == models.AuditRefreshTokenReuse {
			reuse = true
		}
	}
	assert.True(t, reuse)
}

func TestRefresh_ReuseRevokesAll(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{ReuseRevokeAll: true})
	sess := register(t, stack)
	ctx := context.Background()

	rotated, err := stack.Service.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)

	_, err = stack.Service.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshTokenRevoked)

	_, err = stack.Service.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenRevoked)
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	sess := register(t, stack)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := stack.Service.Refresh(ctx, sess.RefreshToken); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	live, err := stack.Repo.CountLiveRefreshTokens(ctx, sess.User.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}

func TestRefresh_Failures(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{})
	sess := register(t, stack)
	ctx := context.Background()

	_, err := stack.Service.Refresh(ctx, "")
	assert.ErrorIs(t, err, auth.ErrNoRefreshToken)

	_, err = stack.Service.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrRefreshFailed)

	_, err = stack.Service.Refresh(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRefreshFailed, "access tokens are not refresh tokens")

	unknown, _, err := stack.Tokens.GenerateRefreshToken(sess.User.ID, "other-session")
	require.NoError(t, err)
	_, err = stack.Service.Refresh(ctx, unknown)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenRevoked, "a signed token without a record is rejected")

	require.NoError(t, stack.Repo.SetUserActive(ctx, sess.User.ID, false))
	_, err = stack.Service.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
}

func TestLogout(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{SessionCSRF: true})
	sess := register(t, stack)
	ctx := context.Background()

	require.NoError(t, stack.Service.Logout(ctx, sess.RefreshToken, nil))

	_, err := stack.Service.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenRevoked)

	_, err = stack.CSRF.Get(ctx, sess.SessionID)
	assert.Error(t, err, "session csrf token is deleted")

	// Unknown or missing tokens are not an error.
	require.NoError(t, stack.Service.Logout(ctx, "unknown", nil))
	require.NoError(t, stack.Service.Logout(ctx, "", &token.AccessClaims{SessionID: "sid"}))
}

func TestRefresh_RenewsExpiredSessionCSRF(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{SessionCSRF: true})
	sess := register(t, stack)
	ctx := context.Background()

	stack.Redis.FastForward(csrf.SessionTTL + time.Hour)
	_, err := stack.CSRF.Get(ctx, sess.SessionID)
	require.ErrorIs(t, err, csrf.ErrNoSessionToken)

	refreshed, err := stack.Service.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.CSRFToken)

	stored, err := stack.CSRF.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, refreshed.CSRFToken, stored)
}

func TestRotateCSRF(t *testing.T) {
	stack := testutil.NewAuthStack(t, testutil.AuthOptions{SessionCSRF: true})
	sess := register(t, stack)
	ctx := context.Background()

	rotated, err := stack.Service.RotateCSRF(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.CSRFToken, rotated)

	disabled := testutil.NewAuthStack(t, testutil.AuthOptions{})
	_, err = disabled.Service.RotateCSRF(ctx, "sid")
	assert.ErrorIs(t, err, auth.ErrCSRFDisabled)
}
