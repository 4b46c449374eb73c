// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/livesales/authcore/internal/models"
)

const refreshTokenColumns = `id, token_hash, user_id, session_id, expires_at, revoked, created_at`

// CreateRefreshToken stores a newly issued refresh token.
func (r *Repository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	token.CreatedAt = time.Now().UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	return r.get(ctx, &token.ID,
		`INSERT INTO refresh_tokens (token_hash, user_id, session_id, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		token.TokenHash, token.UserID, token.SessionID, token.ExpiresAt, false, token.CreatedAt)
}

// GetRefreshTokenByHash looks up a token record, revoked or not.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := r.get(ctx, &token,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RotateRefreshToken revokes the old record and stores its successor in one
// transaction. It fails with ErrAlreadyRevoked when the old record was
// revoked concurrently, so only one redemption can ever win.
func (r *Repository) RotateRefreshToken(ctx context.Context, oldID int64, next *models.RefreshToken) error {
	return r.WithTx(ctx, func(tx *Repository) error {
		n, err := tx.exec(ctx,
			`UPDATE refresh_tokens SET revoked = ? WHERE id = ? AND revoked = ?`, true, oldID, false)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyRevoked
		}
		return tx.CreateRefreshToken(ctx, next)
	})
}

// RevokeRefreshTokenByHash revokes one token. Unknown hashes are not an error.
func (r *Repository) RevokeRefreshTokenByHash(ctx context.Context, tokenHash string) error {
	_, err := r.exec(ctx,
		`UPDATE refresh_tokens SET revoked = ? WHERE token_hash = ? AND revoked = ?`, true, tokenHash, false)
	return err
}

// RevokeUserRefreshTokens revokes every live token of a user.
func (r *Repository) RevokeUserRefreshTokens(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx,
		`UPDATE refresh_tokens SET revoked = ? WHERE user_id = ? AND revoked = ?`, true, userID, false)
}

// RevokeOtherSessions revokes the user's tokens belonging to other sessions.
func (r *Repository) RevokeOtherSessions(ctx context.Context, userID int64, keepSessionID string) (int64, error) {
	return r.exec(ctx,
		`UPDATE refresh_tokens SET revoked = ? WHERE user_id = ? AND session_id <> ? AND revoked = ?`,
		true, userID, keepSessionID, false)
}

// CountLiveRefreshTokens counts unrevoked, unexpired tokens of a user.
func (r *Repository) CountLiveRefreshTokens(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var count int64
	err := r.get(ctx, &count,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ? AND revoked = ? AND expires_at > ?`,
		userID, false, now.UTC())
	return count, err
}

// DeleteExpiredRefreshTokens removes tokens that expired before the cutoff.
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, before.UTC())
}
