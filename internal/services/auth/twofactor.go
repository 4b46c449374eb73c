// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/services/twofactor"
)

// TwoFactorSetup is returned when a user starts enabling 2FA. The user record
// is untouched until VerifyTwoFactorSetup succeeds, which activates exactly
// these backup codes.
type TwoFactorSetup struct {
	Secret      string
	QRCode      string
	BackupCodes []string
}

// pendingSetup is kept encrypted in the temp store between enable and
// verify-setup.
type pendingSetup struct {
	Secret      string   `json:"secret"`
	BackupCodes []string `json:"backupCodes"`
}

// VerifyTwoFactorLogin completes a login started by Login. The temp token is
// consumed whether or not the code is valid.
func (s *Service) VerifyTwoFactorLogin(ctx context.Context, tempToken, code string) (*TwoFactorLoginResult, error) {
	userID, ok := s.tempTokens.Consume(ctx, tempToken)
	if !ok {
		return nil, ErrInvalidTempToken
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidTempToken
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return nil, ErrInvalidTempToken
	}

	secret, err := s.encryptor.Decrypt(*user.TwoFactorSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt 2fa secret: %w", err)
	}

	usedBackup := false
	if !s.twoFactor.VerifyCode(secret, code) {
		matched, err := s.consumeBackupCode(ctx, user.ID, code)
		if err != nil {
			return nil, err
		}
		if !matched {
			s.audit(ctx, &user.ID, models.AuditTwoFactorLoginFailed, errors.New("invalid code"))
			slog.Warn("login_2fa_failed", "user_id", user.ID)
			return nil, ErrInvalid2FACode
		}
		usedBackup = true
	}

	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	result := &TwoFactorLoginResult{Session: sess, UsedBackupCode: usedBackup}
	if usedBackup {
		remaining, err := s.repo.CountUnusedBackupCodes(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count backup codes: %w", err)
		}
		result.RemainingBackupCodes = remaining
		slog.Info("login_backup_code_used", "user_id", user.ID, "remaining", remaining)
	}

	slog.Info("login_success", "user_id", user.ID, "email", user.Email, "two_factor", true)
	return result, nil
}

// consumeBackupCode marks the first unused code matching input as used. A
// code consumed concurrently by another request does not match.
func (s *Service) consumeBackupCode(ctx context.Context, userID int64, input string) (bool, error) {
	if !twofactor.LooksLikeBackupCode(input) {
		return false, nil
	}
	normalized := twofactor.NormalizeBackupCode(input)

	codes, err := s.repo.GetUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load backup codes: %w", err)
	}

	for _, c := range codes {
		if !s.hasher.Verify(ctx, normalized, c.CodeHash) {
			continue
		}
		ok, err := s.repo.MarkBackupCodeUsed(ctx, c.ID, s.now().UTC())
		if err != nil {
			return false, fmt.Errorf("failed to mark backup code used: %w", err)
		}
		return ok, nil
	}
	return false, nil
}

// BeginTwoFactorSetup generates a secret, its QR code and the backup codes
// that become valid once the setup is verified.
func (s *Service) BeginTwoFactorSetup(ctx context.Context, userID int64) (*TwoFactorSetup, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := s.twoFactor.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	qr, err := twofactor.QRCodeDataURL(secret.ProvisioningURI)
	if err != nil {
		return nil, err
	}
	codes, err := twofactor.NewBackupCodes()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(pendingSetup{Secret: secret.Secret, BackupCodes: codes})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending setup: %w", err)
	}
	sealed, err := s.encryptor.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt pending setup: %w", err)
	}
	s.tempTokens.SavePendingSetup(ctx, user.ID, sealed)

	return &TwoFactorSetup{Secret: secret.Secret, QRCode: qr, BackupCodes: codes}, nil
}

// pendingBackupCodes returns the codes shown by BeginTwoFactorSetup for
// secret, or nil when that setup expired or was superseded.
func (s *Service) pendingBackupCodes(ctx context.Context, userID int64, secret string) []string {
	sealed, ok := s.tempTokens.PendingSetup(ctx, userID)
	if !ok {
		return nil
	}
	raw, err := s.encryptor.Decrypt(sealed)
	if err != nil {
		slog.Warn("2fa_pending_setup_unreadable", "user_id", userID, "error", err)
		return nil
	}
	var p pendingSetup
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Secret != secret {
		return nil
	}
	return p.BackupCodes
}

// VerifyTwoFactorSetup enables 2FA once the user proves possession of
// secret. It stores the backup codes shown at setup start, or a fresh set
// when that setup is gone, and returns them. They are never shown again.
func (s *Service) VerifyTwoFactorSetup(ctx context.Context, userID int64, secret, code string) ([]string, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if !s.twoFactor.VerifyCode(secret, code) {
		return nil, ErrInvalid2FACode
	}

	sealed, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt 2fa secret: %w", err)
	}

	var hashes []string
	plain := s.pendingBackupCodes(ctx, user.ID, secret)
	if plain != nil {
		hashes, err = twofactor.HashBackupCodes(ctx, s.hasher, plain)
	} else {
		plain, hashes, err = twofactor.GenerateBackupCodes(ctx, s.hasher)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.ActivateTwoFactor(ctx, user.ID, sealed, hashes); err != nil {
		return nil, fmt.Errorf("failed to enable 2fa: %w", err)
	}
	s.tempTokens.ClearPendingSetup(ctx, user.ID)

	s.audit(ctx, &user.ID, models.AuditTwoFactorEnabled, nil)
	slog.Info("2fa_enabled", "user_id", user.ID)
	return plain, nil
}

// DisableTwoFactor turns 2FA off. Both the password and a current TOTP code
// are required.
func (s *Service) DisableTwoFactor(ctx context.Context, userID int64, plaintext, code string) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}
	if !s.hasher.Verify(ctx, plaintext, user.PasswordHash) {
		slog.Warn("2fa_disable_failed", "user_id", userID, "reason", "invalid_password")
		return ErrInvalidPassword
	}

	secret, err := s.encryptor.Decrypt(*user.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("failed to decrypt 2fa secret: %w", err)
	}
	if !s.twoFactor.VerifyCode(secret, code) {
		slog.Warn("2fa_disable_failed", "user_id", userID, "reason", "invalid_code")
		return ErrInvalid2FACode
	}

	if err := s.repo.DeactivateTwoFactor(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to disable 2fa: %w", err)
	}

	s.audit(ctx, &user.ID, models.AuditTwoFactorDisabled, nil)
	slog.Info("2fa_disabled", "user_id", user.ID)
	return nil
}
