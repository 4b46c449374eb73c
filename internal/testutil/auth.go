// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package testutil

import (
	"testing"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"codeberg.org/livesales/authcore/internal/services/encryption"
	"codeberg.org/livesales/authcore/internal/services/password"
	"codeberg.org/livesales/authcore/internal/services/token"
	"codeberg.org/livesales/authcore/internal/services/twofactor"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// Test secrets. Never use outside tests.
const (
	AccessSecret  = "test-access-secret-0123456789abcdef"
	RefreshSecret = "test-refresh-secret-0123456789abcdef"
	EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// FastPasswordParams keeps argon2id cheap in tests.
var FastPasswordParams = password.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}

// AuthOptions toggles optional features of NewAuthStack.
type AuthOptions struct {
	SessionCSRF    bool // requires and implies Redis
	Redis          bool
	ReuseRevokeAll bool
}

// AuthStack is a fully wired auth service over an in-memory database.
type AuthStack struct {
	Service    *auth.Service
	DB         *sqlx.DB
	Repo       *repository.Repository
	Tokens     *token.Manager
	Hasher     *password.Hasher
	Encryptor  *encryption.Service
	TwoFactor  *twofactor.Service
	TempTokens *twofactor.TempTokenStore
	CSRF       *csrf.SessionStore
	Redis      *miniredis.Miniredis
	Config     *config.AuthConfig
}

// NewAuthStack wires an auth.Service for tests.
func NewAuthStack(t *testing.T, opts AuthOptions) *AuthStack {
	t.Helper()

	db, repo := NewTestDB(t)

	cfg := &config.AuthConfig{
		Path:               "/api/auth",
		Issuer:             "live-sales",
		AccessTokenSecret:  AccessSecret,
		RefreshTokenSecret: RefreshSecret,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		RefreshTransport:   config.RefreshTransportCookie,
		ReuseRevokeAll:     opts.ReuseRevokeAll,
		SessionCSRF:        opts.SessionCSRF,
		TwoFactorIssuer:    "Live Sales",
		TempTokenTTL:       5 * time.Minute,
	}

	tokens, err := token.NewManager(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.Issuer,
	})
	require.NoError(t, err)

	hasher, err := password.NewHasher(FastPasswordParams)
	require.NoError(t, err)

	encryptor, err := encryption.NewFromHex(EncryptionKey)
	require.NoError(t, err)

	stack := &AuthStack{
		DB:        db,
		Repo:      repo,
		Tokens:    tokens,
		Hasher:    hasher,
		Encryptor: encryptor,
		TwoFactor: twofactor.New(cfg.TwoFactorIssuer),
		Config:    cfg,
	}

	if opts.Redis || opts.SessionCSRF {
		mr, client := NewTestRedis(t)
		stack.Redis = mr
		stack.TempTokens = twofactor.NewTempTokenStore(client, cfg.TempTokenTTL)
		if opts.SessionCSRF {
			stack.CSRF = csrf.NewSessionStore(client)
		}
	} else {
		stack.TempTokens = twofactor.NewTempTokenStore(nil, cfg.TempTokenTTL)
	}

	stack.Service = auth.NewService(auth.Deps{
		Repo:       repo,
		Tokens:     tokens,
		Hasher:     hasher,
		Encryptor:  encryptor,
		TwoFactor:  stack.TwoFactor,
		TempTokens: stack.TempTokens,
		CSRF:       stack.CSRF,
	}, cfg)

	return stack
}
