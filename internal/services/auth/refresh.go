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
	"codeberg.org/livesales/authcore/internal/services/token"
)

// Refresh redeems a refresh token for a new access and refresh token pair
// and, when session CSRF is enabled, a new CSRF token. Each refresh token is
// accepted once; presenting a revoked one is treated as reuse.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrNoRefreshToken
	}

	claims, err := s.tokens.VerifyRefreshToken(raw)
	if err != nil {
		slog.Warn("refresh_failed", "reason", err)
		return nil, ErrRefreshFailed
	}

	record, err := s.repo.GetRefreshTokenByHash(ctx, token.Hash(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("refresh_failed", "user_id", claims.UserID, "reason", "unknown_token")
			return nil, ErrRefreshTokenRevoked
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if record.Revoked {
		s.handleReuse(ctx, record)
		return nil, ErrRefreshTokenRevoked
	}
	if !record.Live(s.now()) || record.UserID != claims.UserID {
		return nil, ErrRefreshTokenRevoked
	}

	user, err := s.activeUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrRefreshTokenRevoked
		}
		return nil, err
	}

	accessToken, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role, record.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, expiresAt, err := s.tokens.GenerateRefreshToken(user.ID, record.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	err = s.repo.RotateRefreshToken(ctx, record.ID, &models.RefreshToken{
		TokenHash: token.Hash(refreshToken),
		UserID:    user.ID,
		SessionID: record.SessionID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRevoked) {
			slog.Warn("refresh_failed", "user_id", user.ID, "reason", "concurrent_rotation")
			return nil, ErrRefreshTokenRevoked
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if err := s.repo.RecordActivity(ctx, user.ID, s.now().UTC()); err != nil {
		slog.Warn("record_activity_failed", "user_id", user.ID, "error", err)
	}

	slog.Info("token_refreshed", "user_id", user.ID, "session_id", record.SessionID)

	sess := &Session{
		User:             user,
		SessionID:        record.SessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
	}

	// The session token outlives its CSRF token; a refresh re-arms it.
	if s.csrf != nil {
		csrfToken, err := s.csrf.Create(ctx, record.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create session csrf token: %w", err)
		}
		sess.CSRFToken = csrfToken
	}

	return sess, nil
}

func (s *Service) handleReuse(ctx context.Context, record *models.RefreshToken) {
	slog.Warn("refresh_token_reuse",
		"user_id", record.UserID,
		"session_id", record.SessionID,
		"ip", metaIP(ctx),
	)
	s.audit(ctx, &record.UserID, models.AuditRefreshTokenReuse, errors.New("revoked refresh token presented"))

	if !s.config.ReuseRevokeAll {
		return
	}
	n, err := s.repo.RevokeUserRefreshTokens(ctx, record.UserID)
	if err != nil {
		slog.Error("refresh_reuse_revoke_failed", "user_id", record.UserID, "error", err)
		return
	}
	slog.Warn("refresh_reuse_revoked_all", "user_id", record.UserID, "revoked", n)
}

// Logout revokes the presented refresh token and the session's CSRF token.
// claims may be nil when the access token is absent or expired.
func (s *Service) Logout(ctx context.Context, raw string, claims *token.AccessClaims) error {
	var sessionID string
	if claims != nil {
		sessionID = claims.SessionID
	}

	if raw != "" {
		record, err := s.repo.GetRefreshTokenByHash(ctx, token.Hash(raw))
		switch {
		case err == nil:
			if err := s.repo.RevokeRefreshTokenByHash(ctx, record.TokenHash); err != nil {
				return fmt.Errorf("failed to revoke refresh token: %w", err)
			}
			sessionID = record.SessionID
			s.audit(ctx, &record.UserID, models.AuditLogout, nil)
			slog.Info("logout", "user_id", record.UserID, "session_id", record.SessionID)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to load refresh token: %w", err)
		}
	}

	if s.csrf != nil && sessionID != "" {
		if err := s.csrf.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// RotateCSRF issues a new session-bound CSRF token.
func (s *Service) RotateCSRF(ctx context.Context, sessionID string) (string, error) {
	if s.csrf == nil {
		return "", ErrCSRFDisabled
	}
	return s.csrf.Rotate(ctx, sessionID)
}

// ErrCSRFDisabled is returned by RotateCSRF when session CSRF is off.
var ErrCSRFDisabled = errors.New("session csrf disabled")
