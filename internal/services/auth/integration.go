// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"codeberg.org/livesales/authcore/internal/models"
)

const maxIntegrationTokenLength = 512

// SaveIntegrationToken stores the user's BaseLinker API token encrypted.
func (s *Service) SaveIntegrationToken(ctx context.Context, userID int64, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIntegrationTokenLength || strings.ContainsAny(raw, " \t\r\n") {
		return ErrInvalidIntegrationToken
	}

	if _, err := s.activeUser(ctx, userID); err != nil {
		return err
	}

	sealed, err := s.encryptor.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt integration token: %w", err)
	}
	if err := s.repo.SetBaselinkerToken(ctx, userID, &sealed); err != nil {
		return fmt.Errorf("failed to save integration token: %w", err)
	}

	s.audit(ctx, &userID, models.AuditIntegrationTokenSaved, nil)
	slog.Info("integration_token_saved", "user_id", userID)
	return nil
}

// GetIntegrationToken returns the decrypted token, or "" if none is stored.
func (s *Service) GetIntegrationToken(ctx context.Context, userID int64) (string, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasIntegrationToken() {
		return "", nil
	}
	plain, err := s.encryptor.Decrypt(*user.BaselinkerToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt integration token: %w", err)
	}
	return plain, nil
}

// DeleteIntegrationToken removes the stored token.
func (s *Service) DeleteIntegrationToken(ctx context.Context, userID int64) error {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.SetBaselinkerToken(ctx, userID, nil); err != nil {
		return fmt.Errorf("failed to delete integration token: %w", err)
	}

	s.audit(ctx, &userID, models.AuditIntegrationTokenDeleted, nil)
	slog.Info("integration_token_deleted", "user_id", userID)
	return nil
}
