// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// BackupCode stores a hashed one-time 2FA backup code.
type BackupCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"userId"`
	CodeHash  string     `db:"code_hash" json:"-"`
	UsedAt    *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Used reports whether the code has been consumed.
func (c *BackupCode) Used() bool {
	return c.UsedAt != nil
}
