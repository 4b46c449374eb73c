// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/livesales/authcore/internal/models"
)

const userColumns = `id, email, password_hash, role, is_active, email_verified,
	two_factor_enabled, two_factor_secret, baselinker_token,
	last_login_at, last_activity_at, created_at, updated_at`

// CreateUser inserts a user and fills in ID and timestamps.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	return r.get(ctx, &user.ID,
		`INSERT INTO users (email, password_hash, role, is_active, email_verified, two_factor_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		user.Email, user.PasswordHash, user.Role, user.IsActive, user.EmailVerified, false, now, now)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email. The caller normalizes case.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserExists checks if an email is taken.
func (r *Repository) UserExists(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.get(ctx, &count, `SELECT COUNT(*) FROM users WHERE email = ?`, email); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUserPassword stores a new password digest.
func (r *Repository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return r.updateUser(ctx, id, `password_hash = ?`, passwordHash)
}

// RecordLogin sets both login and activity timestamps.
func (r *Repository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	return r.updateUser(ctx, id, `last_login_at = ?, last_activity_at = ?`, at, at)
}

// RecordActivity sets the activity timestamp.
func (r *Repository) RecordActivity(ctx context.Context, id int64, at time.Time) error {
	return r.updateUser(ctx, id, `last_activity_at = ?`, at.UTC())
}

// SetUserActive activates or deactivates an account.
func (r *Repository) SetUserActive(ctx context.Context, id int64, active bool) error {
	return r.updateUser(ctx, id, `is_active = ?`, active)
}

// SetBaselinkerToken stores an encrypted integration token, nil clears it.
func (r *Repository) SetBaselinkerToken(ctx context.Context, id int64, ciphertext *string) error {
	return r.updateUser(ctx, id, `baselinker_token = ?`, ciphertext)
}

// ActivateTwoFactor stores the encrypted TOTP secret, sets the flag and
// replaces all backup codes in one transaction.
func (r *Repository) ActivateTwoFactor(ctx context.Context, userID int64, secretCiphertext string, codeHashes []string) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		if err := tx.updateUser(ctx, userID,
			`two_factor_enabled = ?, two_factor_secret = ?`, true, secretCiphertext); err != nil {
			return err
		}
		return tx.ReplaceBackupCodes(ctx, userID, codeHashes)
	})
}

// DeactivateTwoFactor clears the secret, the flag and all backup codes.
func (r *Repository) DeactivateTwoFactor(ctx context.Context, userID int64) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		if err := tx.updateUser(ctx, userID,
			`two_factor_enabled = ?, two_factor_secret = NULL`, false); err != nil {
			return err
		}
		return tx.DeleteBackupCodes(ctx, userID)
	})
}

func (r *Repository) updateUser(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, time.Now().UTC(), id)
	n, err := r.exec(ctx, `UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
