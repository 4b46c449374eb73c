// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/livesales/authcore/internal/models"
)

// CreateAuditLog records a security event.
func (r *Repository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	entry.CreatedAt = time.Now().UTC()
	return r.get(ctx, &entry.ID,
		`INSERT INTO audit_logs (user_id, action, ip_address, user_agent, success, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		entry.UserID, entry.Action, entry.IPAddress, entry.UserAgent, entry.Success, entry.ErrorMessage, entry.CreatedAt)
}

// ListAuditLogs returns the newest events of a user.
func (r *Repository) ListAuditLogs(ctx context.Context, userID int64, limit int) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.selectAll(ctx, &entries,
		`SELECT id, user_id, action, ip_address, user_agent, success, error_message, created_at
		 FROM audit_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
