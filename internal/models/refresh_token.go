// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// RefreshToken records an issued refresh token by its SHA-256 hash.
type RefreshToken struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64     `db:"id"`
	TokenHash string    `db:"token_hash"`
	UserID    int64     `db:"user_id"`
	SessionID string    `db:"session_id"`
	ExpiresAt time.Time `db:"expires_at"`
	Revoked   bool      `db:"revoked"`
	CreatedAt time.Time `db:"created_at"`
}

// Live reports whether the token can still be redeemed at the given time.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
