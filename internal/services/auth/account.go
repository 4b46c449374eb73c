// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/repository"
)

// AccountStatus is the operator view of an account.
type AccountStatus struct {
	User         *models.User
	LiveSessions int64
	RecentEvents []models.AuditLog
}

func (s *Service) userByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetAccountActive activates or deactivates the account of email.
// Deactivation also revokes every refresh token of the account.
func (s *Service) SetAccountActive(ctx context.Context, email string, active bool) (*models.User, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetUserActive(ctx, user.ID, active); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	user.IsActive = active

	if !active {
		n, err := s.repo.RevokeUserRefreshTokens(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}
		s.audit(ctx, &user.ID, models.AuditAccountDeactivated, nil)
		slog.Info("account_deactivated", "user_id", user.ID, "revoked_sessions", n)
		return user, nil
	}

	s.audit(ctx, &user.ID, models.AuditAccountActivated, nil)
	slog.Info("account_activated", "user_id", user.ID)
	return user, nil
}

// AccountStatus returns the account of email with its live session count
// and up to limit recent audit events.
func (s *Service) AccountStatus(ctx context.Context, email string, limit int) (*AccountStatus, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	live, err := s.repo.CountLiveRefreshTokens(ctx, user.ID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	events, err := s.repo.ListAuditLogs(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	return &AccountStatus{User: user, LiveSessions: live, RecentEvents: events}, nil
}
