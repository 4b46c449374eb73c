// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/testutil"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

func TestCreateUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := &models.User{Email: "alice@example.com", PasswordHash: "digest", IsActive: true}
	require.NoError(t, repo.CreateUser(ctx, user))

	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.IsActive)
	assert.False(t, got.TwoFactorEnabled)
	assert.Nil(t, got.TwoFactorSecret)
	assert.Nil(t, got.LastLoginAt)
}

func TestCreateUser_Duplicate(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	err := repo.CreateUser(ctx, &models.User{Email: "alice@example.com", PasswordHash: "digest"})

	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestGetUser_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := repo.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserExists(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	exists, err := repo.UserExists(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.UserExists(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordLogin(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	require.NoError(t, repo.RecordLogin(ctx, user.ID, time.Now()))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	require.NotNil(t, got.LastActivityAt)
}

func TestUpdateUser_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	err := repo.UpdateUserPassword(context.Background(), 999, "digest")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetBaselinkerToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	ciphertext := "sealed"
	require.NoError(t, repo.SetBaselinkerToken(ctx, user.ID, &ciphertext))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BaselinkerToken)
	assert.Equal(t, "sealed", *got.BaselinkerToken)

	require.NoError(t, repo.SetBaselinkerToken(ctx, user.ID, nil))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BaselinkerToken)
}

func TestActivateAndDeactivateTwoFactor(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	require.NoError(t, repo.ActivateTwoFactor(ctx, user.ID, "sealed-secret", []string{"h1", "h2", "h3"}))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.TwoFactorEnabled)
	require.NotNil(t, got.TwoFactorSecret)
	assert.Equal(t, "sealed-secret", *got.TwoFactorSecret)

	count, err := repo.CountUnusedBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Re-activation replaces the previous set.
	require.NoError(t, repo.ActivateTwoFactor(ctx, user.ID, "sealed-secret-2", []string{"h4"}))
	count, err = repo.CountUnusedBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.DeactivateTwoFactor(ctx, user.ID))

	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.TwoFactorEnabled)
	assert.Nil(t, got.TwoFactorSecret)

	count, err = repo.CountUnusedBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestActivateTwoFactor_UnknownUserRollsBack(t *testing.T) {
	db, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	err := repo.ActivateTwoFactor(ctx, 999, "sealed", []string{"h1"})
	require.ErrorIs(t, err, repository.ErrNotFound)

	var count int64
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM two_factor_backup_codes`))
	assert.Zero(t, count)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx *repository.Repository) error {
		require.NoError(t, tx.CreateUser(ctx, &models.User{Email: "alice@example.com", PasswordHash: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := repo.UserExists(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = repo.WithTx(ctx, func(tx *repository.Repository) error {
			require.NoError(t, tx.CreateUser(ctx, &models.User{Email: "alice@example.com", PasswordHash: "x"}))
			panic("kaput")
		})
	})

	exists, err := repo.UserExists(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRotateRefreshToken_RollsBackWhenInsertFails(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = mockDB.Close()
	}()

	repo := repository.New(sqlx.NewDb(mockDB, "sqlite"))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked`).
		WithArgs(true, int64(7), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO refresh_tokens`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = repo.RotateRefreshToken(context.Background(), 7, &models.RefreshToken{
		TokenHash: "next",
		UserID:    1,
		SessionID: "sid",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogs(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	user := testutil.NewTestUser(t, repo, "alice@example.com", "digest")

	reason := "invalid_password"
	require.NoError(t, repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID: &user.ID, Action: models.AuditLoginFailed, IPAddress: "203.0.113.7", ErrorMessage: &reason,
	}))
	require.NoError(t, repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID: &user.ID, Action: models.AuditLogin, Success: true,
	}))
	require.NoError(t, repo.CreateAuditLog(ctx, &models.AuditLog{Action: models.AuditLoginFailed}))

	entries, err := repo.ListAuditLogs(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditLogin, entries[0].Action)
	assert.True(t, entries[0].Success)
	assert.Equal(t, models.AuditLoginFailed, entries[1].Action)
	require.NotNil(t, entries[1].ErrorMessage)
	assert.Equal(t, "invalid_password", *entries[1].ErrorMessage)
}
