// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token issues and verifies HS256 access and refresh tokens.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrTokenExpired means the token was valid but its lifetime is over.
	// For access tokens the client should refresh.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, wrong algorithm, wrong type and
	// malformed input.
	ErrTokenInvalid = errors.New("token invalid")
)

// AccessClaims identify the caller of an authenticated request.
type AccessClaims struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims identify a session that may mint new access tokens.
type RefreshClaims struct {
	UserID    int64  `json:"userId"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// Config holds signing secrets and lifetimes. Access and refresh tokens use
// separate secrets so one can never be accepted as the other.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Manager signs and verifies tokens. Safe for concurrent use.
type Manager struct {
	cfg Config
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	m := &Manager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.cfg.AccessTTL
}

// GenerateAccessToken signs a short-lived access token.
func (m *Manager) GenerateAccessToken(userID int64, email, role, sessionID string) (string, error) {
	claims := AccessClaims{
		UserID:           userID,
		Email:            email,
		Role:             role,
		SessionID:        sessionID,
		Type:             typeAccess,
		RegisteredClaims: m.registered(userID, m.cfg.AccessTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken signs a long-lived refresh token. Each token carries a
// random jti so two tokens for the same session never collide.
func (m *Manager) GenerateRefreshToken(userID int64, sessionID string) (string, time.Time, error) {
	rc := m.registered(userID, m.cfg.RefreshTTL)
	claims := RefreshClaims{
		UserID:           userID,
		SessionID:        sessionID,
		Type:             typeRefresh,
		RegisteredClaims: rc,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.RefreshSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, rc.ExpiresAt.Time, nil
}

// VerifyAccessToken checks signature, issuer, type and expiry.
func (m *Manager) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(raw, claims, m.cfg.AccessSecret); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.UserID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefreshToken checks signature, issuer, type and expiry. Whether the
// token was revoked is decided by the refresh token store.
func (m *Manager) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(raw, claims, m.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.UserID == 0 || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) registered(userID int64, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *Manager) parse(raw string, claims jwt.Claims, secret string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// Hash returns the SHA-256 hex digest under which refresh tokens are stored.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
