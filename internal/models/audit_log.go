// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Audit actions.
const (
	AuditRegister                = "REGISTER"
	AuditLogin                   = "LOGIN"
	AuditLoginFailed             = "LOGIN_FAILED"
	AuditLogout                  = "LOGOUT"
	AuditTokenRefresh            = "TOKEN_REFRESH"
	AuditRefreshTokenReuse       = "REFRESH_TOKEN_REUSE"
	AuditPasswordChanged         = "PASSWORD_CHANGED"
	AuditTwoFactorEnabled        = "2FA_ENABLED"
	AuditTwoFactorDisabled       = "2FA_DISABLED"
	AuditTwoFactorLoginFailed    = "2FA_LOGIN_FAILED"
	AuditIntegrationTokenSaved   = "INTEGRATION_TOKEN_SAVED"
	AuditIntegrationTokenDeleted = "INTEGRATION_TOKEN_DELETED"
	AuditAccountActivated        = "ACCOUNT_ACTIVATED"
	AuditAccountDeactivated      = "ACCOUNT_DEACTIVATED"
)

// AuditLog is a security-relevant event.
type AuditLog struct { //nolint:govet // fieldalignment: readability over optimization
	ID           int64     `db:"id" json:"id"`
	UserID       *int64    `db:"user_id" json:"userId,omitempty"`
	Action       string    `db:"action" json:"action"`
	IPAddress    string    `db:"ip_address" json:"ipAddress"`
	UserAgent    string    `db:"user_agent" json:"userAgent"`
	Success      bool      `db:"success" json:"success"`
	ErrorMessage *string   `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
