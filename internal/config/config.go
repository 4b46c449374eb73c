// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// Refresh token transports. Exactly one is active per deployment.
const (
	RefreshTransportCookie = "cookie"
	RefreshTransportBody   = "body"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	TLS      TLSConfig
	Auth     AuthConfig
	Cookie   CookieConfig
	Password PasswordConfig
	Security SecurityConfig
}

type TLSConfig struct {
	Mode     string // auto, acme, manual, off
	CertDir  string // ACME certificate cache
	Email    string // ACME email for Let's Encrypt
	CertFile string // Path to certificate file (manual mode)
	KeyFile  string // Path to private key file (manual mode)
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host           string
	Port           int
	BaseURL        string
	MaxBodySize    int // in MB
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	Driver string // sqlite, postgres
	DSN    string
}

type RedisConfig struct {
	URL string // empty disables redis
}

type AuthConfig struct { //nolint:govet // fieldalignment not critical
	Path               string // route group holding the auth endpoints and refresh cookie
	Issuer             string
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshTransport   string // cookie, body
	ReuseRevokeAll     bool   // revoke every session of a user when a rotated refresh token is replayed
	SessionCSRF        bool   // session-bound CSRF tokens, requires redis
	TwoFactorIssuer    string
	TempTokenTTL       time.Duration
}

type CookieConfig struct {
	Secure   bool   // force the Secure attribute even without an https base URL
	HashKey  string // 32-byte hex string for HMAC signing
	BlockKey string // 32-byte hex string for AES encryption (optional)
}

type PasswordConfig struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

type SecurityConfig struct {
	EncryptionKey string  // 32-byte hex string for AES-256-GCM
	RateLimit     float64 // requests per second per IP on the auth group, 0 disables
	RateBurst     int
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           cmd.String("host"),
			Port:           int(cmd.Int("port")),
			BaseURL:        cmd.String("base-url"),
			MaxBodySize:    int(cmd.Int("max-body-size")),
			AllowedOrigins: cmd.StringSlice("allowed-origins"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			Driver: cmd.String("database-driver"),
			DSN:    cmd.String("database-dsn"),
		},
		Redis: RedisConfig{
			URL: cmd.String("redis-url"),
		},
		TLS: TLSConfig{
			Mode:     cmd.String("tls-mode"),
			CertDir:  cmd.String("tls-cert-dir"),
			Email:    cmd.String("tls-email"),
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Auth: AuthConfig{
			Path:               cmd.String("auth-path"),
			Issuer:             cmd.String("token-issuer"),
			AccessTokenSecret:  cmd.String("access-token-secret"),
			RefreshTokenSecret: cmd.String("refresh-token-secret"),
			AccessTokenTTL:     cmd.Duration("access-token-ttl"),
			RefreshTokenTTL:    cmd.Duration("refresh-token-ttl"),
			RefreshTransport:   strings.ToLower(cmd.String("refresh-transport")),
			ReuseRevokeAll:     cmd.Bool("refresh-reuse-revoke-all"),
			SessionCSRF:        cmd.Bool("csrf-session-enabled"),
			TwoFactorIssuer:    cmd.String("2fa-issuer"),
			TempTokenTTL:       cmd.Duration("2fa-temp-token-ttl"),
		},
		Cookie: CookieConfig{
			Secure:   cmd.Bool("cookie-secure"),
			HashKey:  cmd.String("cookie-hash-key"),
			BlockKey: cmd.String("cookie-block-key"),
		},
		Password: PasswordConfig{
			Memory:      uint32(cmd.Int("password-memory")),      //nolint:gosec // validated range
			Iterations:  uint32(cmd.Int("password-iterations")),  //nolint:gosec // validated range
			Parallelism: uint8(cmd.Int("password-parallelism")), //nolint:gosec // validated range
		},
		Security: SecurityConfig{
			EncryptionKey: cmd.String("encryption-key"),
			RateLimit:     cmd.Float("rate-limit"),
			RateBurst:     int(cmd.Int("rate-burst")),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	applyDevSecrets(cfg)

	return cfg
}

// Validate checks combinations that flags alone cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.RefreshTransport {
	case RefreshTransportCookie, RefreshTransportBody:
	default:
		errs = append(errs, fmt.Errorf("refresh-transport must be %q or %q, got %q",
			RefreshTransportCookie, RefreshTransportBody, c.Auth.RefreshTransport))
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver: %s", c.Database.Driver))
	}

	if c.Auth.SessionCSRF && c.Redis.URL == "" {
		errs = append(errs, errors.New("csrf-session-enabled requires redis-url"))
	}
	if c.Auth.AccessTokenSecret == "" || c.Auth.RefreshTokenSecret == "" {
		errs = append(errs, errors.New("access-token-secret and refresh-token-secret are required"))
	}
	if c.Auth.AccessTokenSecret != "" && c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		errs = append(errs, errors.New("access and refresh tokens must use different secrets"))
	}
	if c.Security.EncryptionKey == "" {
		errs = append(errs, errors.New("encryption-key is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Password.Memory < 8*1024 || c.Password.Iterations < 1 || c.Password.Parallelism < 1 {
		errs = append(errs, errors.New("password hashing parameters below minimum (8 MiB, 1 iteration, 1 thread)"))
	}
	if c.Password.Memory > 1024*1024 || c.Password.Iterations > 16 || c.Password.Parallelism > 16 {
		errs = append(errs, errors.New("password hashing parameters above maximum (1 GiB, 16 iterations, 16 threads)"))
	}

	return errors.Join(errs...)
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return c.Cookie.Secure || strings.HasPrefix(c.Server.BaseURL, "https://")
}

// applyDevSecrets fills missing secrets with random values on localhost so
// the server starts without setup. Values change on every restart.
func applyDevSecrets(cfg *Config) {
	if !IsLocalhost(cfg.Server.Host) {
		return
	}

	fill := func(name string, target *string) {
		if *target != "" {
			return
		}
		*target = randomHex(32)
		slog.Warn("generated ephemeral secret for local development", "setting", name)
	}

	fill("access-token-secret", &cfg.Auth.AccessTokenSecret)
	fill("refresh-token-secret", &cfg.Auth.RefreshTokenSecret)
	fill("encryption-key", &cfg.Security.EncryptionKey)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port
	mode := strings.ToLower(cfg.TLS.Mode)

	scheme := "http"
	if shouldUseTLS(mode, host) {
		scheme = "https"
	}

	// ACME always serves on 443
	if mode == "acme" {
		return fmt.Sprintf("https://%s", host)
	}

	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func shouldUseTLS(mode, host string) bool {
	switch mode {
	case "off":
		return false
	case "acme", "manual":
		return true
	default: // "auto" or empty
		return !IsLocalhost(host)
	}
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

func src(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		// Server
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: src("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: src("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Public base URL of the API",
			Sources: src("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: src("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringSliceFlag{
			Name:    "allowed-origins",
			Usage:   "Origins allowed to call the API with credentials",
			Sources: src("ALLOWED_ORIGINS", "server.allowed_origins"),
		},
		// Logging
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: src("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: src("LOG_FORMAT", "log.format"),
		},
		// Storage
		&cli.StringFlag{
			Name:    "database-driver",
			Value:   DriverSQLite,
			Usage:   "Database driver (sqlite, postgres)",
			Sources: src("DATABASE_DRIVER", "database.driver"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/authcore.db",
			Usage:   "Database DSN",
			Sources: src("DATABASE_DSN", "database.dsn"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL, e.g. redis://localhost:6379/0 (empty uses in-process fallbacks)",
			Sources: src("REDIS_URL", "redis.url"),
		},
		// TLS
		&cli.StringFlag{
			Name:    "tls-mode",
			Value:   "auto",
			Usage:   "TLS mode (auto, acme, manual, off)",
			Sources: src("TLS_MODE", "tls.mode"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-dir",
			Value:   "./data/certs",
			Usage:   "Directory for the ACME certificate cache",
			Sources: src("TLS_CERT_DIR", "tls.cert_dir"),
		},
		&cli.StringFlag{
			Name:    "tls-email",
			Usage:   "Email for ACME/Let's Encrypt registration",
			Sources: src("TLS_EMAIL", "tls.email"),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file (manual mode)",
			Sources: src("TLS_CERT_FILE", "tls.cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file (manual mode)",
			Sources: src("TLS_KEY_FILE", "tls.key_file"),
		},
		// Auth
		&cli.StringFlag{
			Name:    "auth-path",
			Value:   "/api/auth",
			Usage:   "Path prefix of the auth endpoints (also the refresh cookie path)",
			Sources: src("AUTH_PATH", "auth.path"),
		},
		&cli.StringFlag{
			Name:    "token-issuer",
			Value:   "live-sales",
			Usage:   "Issuer claim of access and refresh tokens",
			Sources: src("TOKEN_ISSUER", "auth.issuer"),
		},
		&cli.StringFlag{
			Name:    "access-token-secret",
			Usage:   "HMAC secret for access tokens (auto-generated on localhost)",
			Sources: src("JWT_SECRET", "auth.access_token_secret"),
		},
		&cli.StringFlag{
			Name:    "refresh-token-secret",
			Usage:   "HMAC secret for refresh tokens (auto-generated on localhost)",
			Sources: src("JWT_REFRESH_SECRET", "auth.refresh_token_secret"),
		},
		&cli.DurationFlag{
			Name:    "access-token-ttl",
			Value:   15 * time.Minute,
			Usage:   "Access token lifetime",
			Sources: src("ACCESS_TOKEN_TTL", "auth.access_token_ttl"),
		},
		&cli.DurationFlag{
			Name:    "refresh-token-ttl",
			Value:   7 * 24 * time.Hour,
			Usage:   "Refresh token lifetime",
			Sources: src("REFRESH_TOKEN_TTL", "auth.refresh_token_ttl"),
		},
		&cli.StringFlag{
			Name:    "refresh-transport",
			Value:   RefreshTransportCookie,
			Usage:   "How refresh tokens travel (cookie, body)",
			Sources: src("REFRESH_TRANSPORT", "auth.refresh_transport"),
		},
		&cli.BoolFlag{
			Name:    "refresh-reuse-revoke-all",
			Usage:   "Revoke all sessions of a user when a rotated refresh token is replayed",
			Sources: src("REFRESH_REUSE_REVOKE_ALL", "auth.refresh_reuse_revoke_all"),
		},
		&cli.BoolFlag{
			Name:    "csrf-session-enabled",
			Usage:   "Enable session-bound CSRF tokens (requires redis)",
			Sources: src("CSRF_SESSION_ENABLED", "auth.csrf_session_enabled"),
		},
		&cli.StringFlag{
			Name:    "2fa-issuer",
			Value:   "Live Sales",
			Usage:   "Issuer shown in authenticator apps",
			Sources: src("TWO_FACTOR_ISSUER", "auth.two_factor_issuer"),
		},
		&cli.DurationFlag{
			Name:    "2fa-temp-token-ttl",
			Value:   5 * time.Minute,
			Usage:   "Lifetime of the temporary token bridging password and 2FA steps",
			Sources: src("TWO_FACTOR_TEMP_TOKEN_TTL", "auth.two_factor_temp_token_ttl"),
		},
		// Cookies
		&cli.BoolFlag{
			Name:    "cookie-secure",
			Usage:   "Always set the Secure cookie attribute",
			Sources: src("FORCE_HTTPS", "cookie.secure"),
		},
		&cli.StringFlag{
			Name:    "cookie-hash-key",
			Usage:   "Cookie hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: src("COOKIE_HASH_KEY", "cookie.hash_key"),
		},
		&cli.StringFlag{
			Name:    "cookie-block-key",
			Usage:   "Cookie block key for encryption (32-byte hex, optional)",
			Sources: src("COOKIE_BLOCK_KEY", "cookie.block_key"),
		},
		// Password hashing
		&cli.IntFlag{
			Name:    "password-memory",
			Value:   64 * 1024,
			Usage:   "Argon2id memory in KiB",
			Sources: src("PASSWORD_MEMORY", "password.memory"),
		},
		&cli.IntFlag{
			Name:    "password-iterations",
			Value:   3,
			Usage:   "Argon2id iterations",
			Sources: src("PASSWORD_ITERATIONS", "password.iterations"),
		},
		&cli.IntFlag{
			Name:    "password-parallelism",
			Value:   2,
			Usage:   "Argon2id parallelism",
			Sources: src("PASSWORD_PARALLELISM", "password.parallelism"),
		},
		// Security
		&cli.StringFlag{
			Name:    "encryption-key",
			Usage:   "AES-256-GCM key for secrets at rest (32-byte hex)",
			Sources: src("ENCRYPTION_KEY", "security.encryption_key"),
		},
		&cli.FloatFlag{
			Name:    "rate-limit",
			Value:   5,
			Usage:   "Requests per second per client on auth endpoints (0 disables)",
			Sources: src("RATE_LIMIT", "security.rate_limit"),
		},
		&cli.IntFlag{
			Name:    "rate-burst",
			Value:   20,
			Usage:   "Burst size of the auth rate limiter",
			Sources: src("RATE_BURST", "security.rate_burst"),
		},
	}
}
