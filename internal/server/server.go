// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/livesales/authcore/internal/cache"
	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/database"
	"codeberg.org/livesales/authcore/internal/i18n"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"codeberg.org/livesales/authcore/internal/services/encryption"
	"codeberg.org/livesales/authcore/internal/services/password"
	"codeberg.org/livesales/authcore/internal/services/session"
	"codeberg.org/livesales/authcore/internal/services/token"
	"codeberg.org/livesales/authcore/internal/services/twofactor"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

const refreshSweepInterval = time.Hour

// App is the wired HTTP application and the resources it owns.
type App struct {
	Echo *echo.Echo

	db         *sqlx.DB
	redis      *redis.Client
	tempTokens *twofactor.TempTokenStore
	stop       context.CancelFunc
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"refresh_transport", cfg.Auth.RefreshTransport,
		"session_csrf", cfg.Auth.SessionCSRF,
	)

	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return startWithGracefulShutdown(app.Echo, cfg)
}

// New opens storage, wires services and registers routes.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app := &App{db: db}

	app.redis, err = cache.Open(ctx, cfg.Redis.URL)
	switch {
	case errors.Is(err, cache.ErrUnreachable) && !cfg.Auth.SessionCSRF:
		slog.Warn("redis unreachable, 2FA temp tokens are kept in process memory", "error", err)
	case err != nil:
		app.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	case app.redis == nil:
		slog.Warn("redis not configured, 2FA temp tokens are kept in process memory")
	}

	repo := repository.New(db)
	deps, err := app.buildServices(repo, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	bg, stop := context.WithCancel(context.Background())
	app.stop = stop
	app.tempTokens.Start(bg)
	go sweepRefreshTokens(bg, repo, refreshSweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg)
	setupRoutes(e, deps)

	app.Echo = e
	return app, nil
}

// Close releases everything New acquired. Safe to call on a partial App.
func (a *App) Close() {
	if a.stop != nil {
		a.stop()
	}
	if a.tempTokens != nil {
		a.tempTokens.Close()
	}
	if err := cache.Close(a.redis); err != nil {
		slog.Error("failed to close redis", "error", err)
	}
	if err := database.Close(a.db); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}

func (a *App) buildServices(repo *repository.Repository, cfg *config.Config) (*routeDeps, error) {
	tokens, err := token.NewManager(token.Config{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tokens: %w", err)
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init password hasher: %w", err)
	}

	encryptor, err := encryption.NewFromHex(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init encryption: %w", err)
	}

	a.tempTokens = twofactor.NewTempTokenStore(a.redis, cfg.Auth.TempTokenTTL)

	var csrfStore *csrf.SessionStore
	if cfg.Auth.SessionCSRF {
		if a.redis == nil {
			return nil, errors.New("session CSRF requires redis")
		}
		csrfStore = csrf.NewSessionStore(a.redis)
	}

	var cookies *session.Manager
	if cfg.Auth.RefreshTransport == config.RefreshTransportCookie {
		cookies, err = session.NewManager(&cfg.Cookie, cfg.Auth.Path, cfg.Auth.RefreshTokenTTL, cfg.SecureCookies())
		if err != nil {
			return nil, fmt.Errorf("failed to init refresh cookies: %w", err)
		}
	}
	transport, err := session.NewTransport(cfg.Auth.RefreshTransport, cookies)
	if err != nil {
		return nil, err
	}

	svc := auth.NewService(auth.Deps{
		Repo:       repo,
		Tokens:     tokens,
		Hasher:     hasher,
		Encryptor:  encryptor,
		TwoFactor:  twofactor.New(cfg.Auth.TwoFactorIssuer),
		TempTokens: a.tempTokens,
		CSRF:       csrfStore,
	}, &cfg.Auth)

	return &routeDeps{
		cfg:       cfg,
		repo:      repo,
		svc:       svc,
		tokens:    tokens,
		transport: transport,
		csrfStore: csrfStore,
	}, nil
}

// sweepRefreshTokens deletes expired refresh tokens until ctx is done.
func sweepRefreshTokens(ctx context.Context, repo *repository.Repository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.DeleteExpiredRefreshTokens(ctx, now)
			if err != nil {
				slog.Error("refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired refresh tokens removed", "count", n)
			}
		}
	}
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	tlsResult, err := SetupTLS(cfg)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	errChan := make(chan error, 2)

	// ACME only: HTTP-01 challenges and redirects on :80
	var httpServer *http.Server

	switch tlsResult.Mode {
	case TLSModeOff:
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

	case TLSModeACME:
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := startTLSServer(e, ":443", tlsResult.TLSConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		httpServer = &http.Server{
			Addr:              ":80",
			Handler:           tlsResult.HTTPHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP→HTTPS redirect active", "addr", ":80")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

	case TLSModeManual:
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			if err := startTLSServer(e, addr, tlsResult.TLSConfig); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown main server", "error", err)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown HTTP redirect server", "error", err)
		}
	}

	slog.Info("server stopped")
	return nil
}

// startTLSServer starts the Echo server with a custom TLS configuration.
func startTLSServer(e *echo.Echo, addr string, tlsConfig *tls.Config) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	e.TLSListener = tls.NewListener(ln, tlsConfig)
	e.TLSServer.TLSConfig = tlsConfig
	return e.TLSServer.Serve(e.TLSListener)
}
