// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account. Secrets are stored encrypted and never serialized.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID               int64      `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	Role             string     `db:"role" json:"role"`
	IsActive         bool       `db:"is_active" json:"isActive"`
	EmailVerified    bool       `db:"email_verified" json:"emailVerified"`
	TwoFactorEnabled bool       `db:"two_factor_enabled" json:"twoFactorEnabled"`
	TwoFactorSecret  *string    `db:"two_factor_secret" json:"-"`
	BaselinkerToken  *string    `db:"baselinker_token" json:"-"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	LastActivityAt   *time.Time `db:"last_activity_at" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"-"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasIntegrationToken reports whether an encrypted BaseLinker token is stored.
func (u *User) HasIntegrationToken() bool {
	return u.BaselinkerToken != nil && *u.BaselinkerToken != ""
}
