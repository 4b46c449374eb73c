// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"log/slog"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/models"
)

// audit records a security event. A failing write is logged and never fails
// the operation that triggered it.
func (s *Service) audit(ctx context.Context, userID *int64, action string, cause error) {
	meta := appcontext.MetaFrom(ctx)
	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Success:   cause == nil,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}

	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		slog.Error("audit_log_failed", "action", action, "error", err)
	}
}

func metaIP(ctx context.Context) string {
	return appcontext.MetaFrom(ctx).IP
}
