// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth orchestrates registration, login, two-factor login, token
// rotation and account security operations.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/models"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/services/encryption"
	"codeberg.org/livesales/authcore/internal/services/password"
	"codeberg.org/livesales/authcore/internal/services/token"
	"codeberg.org/livesales/authcore/internal/services/twofactor"
	"github.com/google/uuid"
)

var (
	ErrUserExists              = errors.New("user already exists")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAccountDeactivated      = errors.New("account deactivated")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidEmail            = errors.New("invalid email format")
	ErrInvalidTempToken        = errors.New("invalid or expired temporary token")
	ErrInvalid2FACode          = errors.New("invalid two-factor code")
	ErrNoRefreshToken          = errors.New("no refresh token provided")
	ErrRefreshFailed           = errors.New("refresh token verification failed")
	ErrRefreshTokenRevoked     = errors.New("refresh token revoked or unknown")
	ErrInvalidCurrentPassword  = errors.New("current password is incorrect")
	ErrInvalidPassword         = errors.New("password is incorrect")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrInvalidIntegrationToken = errors.New("invalid integration token")
)

// Deps are the collaborators of a Service. CSRF is nil when session-bound
// CSRF protection is disabled.
type Deps struct {
	Repo       *repository.Repository
	Tokens     *token.Manager
	Hasher     *password.Hasher
	Encryptor  *encryption.Service
	TwoFactor  *twofactor.Service
	TempTokens *twofactor.TempTokenStore
	CSRF       *csrf.SessionStore
}

type Service struct {
	repo              *repository.Repository
	tokens            *token.Manager
	hasher            *password.Hasher
	encryptor         *encryption.Service
	twoFactor         *twofactor.Service
	tempTokens        *twofactor.TempTokenStore
	csrf              *csrf.SessionStore
	config            *config.AuthConfig
	passwordValidator *PasswordValidator
	now               func() time.Time
}

func NewService(deps Deps, cfg *config.AuthConfig) *Service {
	return &Service{
		repo:              deps.Repo,
		tokens:            deps.Tokens,
		hasher:            deps.Hasher,
		encryptor:         deps.Encryptor,
		twoFactor:         deps.TwoFactor,
		tempTokens:        deps.TempTokens,
		csrf:              deps.CSRF,
		config:            cfg,
		passwordValidator: DefaultPasswordValidator(),
		now:               time.Now,
	}
}

// PasswordValidator returns the password validator for use in handlers
func (s *Service) PasswordValidator() *PasswordValidator {
	return s.passwordValidator
}

// SessionCSRFEnabled reports whether sessions get a bound CSRF token.
func (s *Service) SessionCSRFEnabled() bool {
	return s.csrf != nil
}

// Session is the result of a successful authentication.
type Session struct {
	User             *models.User
	SessionID        string
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string // empty unless session CSRF is enabled
}

// LoginResult is either a Session or a request for the second factor.
type LoginResult struct {
	Session           *Session
	RequiresTwoFactor bool
	TempToken         string
}

// TwoFactorLoginResult is a Session completed with a second factor.
type TwoFactorLoginResult struct {
	*Session
	UsedBackupCode       bool
	RemainingBackupCodes int64
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, email, plaintext string) (*Session, error) {
	email = normalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}

	if err := s.passwordValidator.Validate(plaintext, email).Err(); err != nil {
		return nil, err
	}

	exists, err := s.repo.UserExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	passwordHash, err := s.hasher.Hash(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit(ctx, &user.ID, models.AuditRegister, nil)
	slog.Info("register_success", "user_id", user.ID, "email", email)

	return s.issueSession(ctx, user)
}

// Login checks credentials. Users with two-factor authentication get a
// temporary token instead of a session.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	email = normalizeEmail(email)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.DummyVerify(ctx, plaintext)
			slog.Warn("login_failed", "email", email, "reason", "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.IsActive {
		s.audit(ctx, &user.ID, models.AuditLoginFailed, errors.New("account deactivated"))
		slog.Warn("login_failed", "user_id", user.ID, "reason", "account_deactivated")
		return nil, ErrAccountDeactivated
	}

	if !s.hasher.Verify(ctx, plaintext, user.PasswordHash) {
		s.audit(ctx, &user.ID, models.AuditLoginFailed, errors.New("invalid password"))
		slog.Warn("login_failed", "user_id", user.ID, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.upgradeHash(ctx, user, plaintext)

	if user.TwoFactorEnabled {
		temp, err := s.tempTokens.Create(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create temp token: %w", err)
		}
		slog.Info("login_2fa_required", "user_id", user.ID)
		return &LoginResult{RequiresTwoFactor: true, TempToken: temp}, nil
	}

	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	slog.Info("login_success", "user_id", user.ID, "email", email)
	return &LoginResult{Session: sess}, nil
}

// upgradeHash re-hashes a verified password whose digest uses outdated
// parameters. Failure is logged and otherwise ignored.
func (s *Service) upgradeHash(ctx context.Context, user *models.User, plaintext string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	digest, err := s.hasher.Hash(ctx, plaintext)
	if err == nil {
		err = s.repo.UpdateUserPassword(ctx, user.ID, digest)
	}
	if err != nil {
		slog.Warn("password_rehash_failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = digest
}

// issueSession starts a new session for user.
func (s *Service) issueSession(ctx context.Context, user *models.User) (*Session, error) {
	sessionID := uuid.NewString()

	accessToken, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, expiresAt, err := s.tokens.GenerateRefreshToken(user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if err := s.repo.CreateRefreshToken(ctx, &models.RefreshToken{
		TokenHash: token.Hash(refreshToken),
		UserID:    user.ID,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	now := s.now().UTC()
	if err := s.repo.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now
	user.LastActivityAt = &now

	s.audit(ctx, &user.ID, models.AuditLogin, nil)

	sess := &Session{
		User:             user,
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
	}

	if s.csrf != nil {
		csrfToken, err := s.csrf.Create(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create session csrf token: %w", err)
		}
		sess.CSRFToken = csrfToken
	}

	return sess, nil
}

// Me returns the active user and records activity.
func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RecordActivity(ctx, user.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}
	return user, nil
}

func (s *Service) activeUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	return user, nil
}

// ChangePassword replaces the password and ends every other session of the
// user. The session identified by sessionID stays signed in.
func (s *Service) ChangePassword(ctx context.Context, userID int64, sessionID, currentPassword, newPassword string) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(ctx, currentPassword, user.PasswordHash) {
		slog.Warn("password_change_failed", "user_id", userID, "reason", "invalid_current_password")
		return ErrInvalidCurrentPassword
	}

	if err := s.passwordValidator.Validate(newPassword, user.Email).Err(); err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdateUserPassword(ctx, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.repo.RevokeOtherSessions(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.audit(ctx, &userID, models.AuditPasswordChanged, nil)
	slog.Info("password_changed", "user_id", userID, "revoked_sessions", revoked)

	return nil
}
