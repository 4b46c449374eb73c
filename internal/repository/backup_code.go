// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/livesales/authcore/internal/models"
)

// ReplaceBackupCodes deletes a user's backup codes and inserts new ones.
// Call it inside WithTx to keep the swap atomic.
func (r *Repository) ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) error {
	if err := r.DeleteBackupCodes(ctx, userID); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, hash := range codeHashes {
		if _, err := r.exec(ctx,
			`INSERT INTO two_factor_backup_codes (user_id, code_hash, created_at) VALUES (?, ?, ?)`,
			userID, hash, now); err != nil {
			return err
		}
	}
	return nil
}

// GetUnusedBackupCodes retrieves unused backup codes for a user.
func (r *Repository) GetUnusedBackupCodes(ctx context.Context, userID int64) ([]models.BackupCode, error) {
	var codes []models.BackupCode
	err := r.selectAll(ctx, &codes,
		`SELECT id, user_id, code_hash, used_at, created_at FROM two_factor_backup_codes
		 WHERE user_id = ? AND used_at IS NULL ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// CountUnusedBackupCodes returns the number of remaining backup codes.
func (r *Repository) CountUnusedBackupCodes(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.get(ctx, &count,
		`SELECT COUNT(*) FROM two_factor_backup_codes WHERE user_id = ? AND used_at IS NULL`, userID)
	return count, err
}

// MarkBackupCodeUsed consumes a code. It returns false when the code was
// already used, which happens when two requests race for the same code.
func (r *Repository) MarkBackupCodeUsed(ctx context.Context, codeID int64, at time.Time) (bool, error) {
	n, err := r.exec(ctx,
		`UPDATE two_factor_backup_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`, at.UTC(), codeID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteBackupCodes deletes all backup codes for a user.
func (r *Repository) DeleteBackupCodes(ctx context.Context, userID int64) error {
	_, err := r.exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = ?`, userID)
	return err
}
