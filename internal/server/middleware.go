// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/httpx"
	appmiddleware "codeberg.org/livesales/authcore/internal/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func setupMiddleware(e *echo.Echo, cfg *config.Config) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.Server.MaxBodySize)))
	if cors := corsMiddleware(cfg); cors != nil {
		e.Use(cors)
	}
	e.Use(appcontext.Middleware())
	e.Use(appmiddleware.Locale())
}

// corsMiddleware allows credentialed calls from the configured origins.
// Without origins the API is same-origin only.
func corsMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if len(cfg.Server.AllowedOrigins) == 0 {
		return nil
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, csrf.HeaderName, "Accept-Language"},
		ExposeHeaders:    []string{csrf.HeaderName},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

// authRateLimiter limits requests per client IP. Returns nil when disabled.
func authRateLimiter(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.Security.RateLimit <= 0 {
		return nil
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.Security.RateLimit),
		Burst:     cfg.Security.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return httpx.Error(c, http.StatusForbidden, "RATE_LIMITED")
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			slog.Warn("rate_limited", "ip", identifier, "path", c.Path())
			return httpx.Error(c, http.StatusTooManyRequests, "RATE_LIMITED")
		},
	})
}

// requestLogger returns middleware that logs requests using slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		LogRemoteIP:  true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				slog.LogAttrs(c.Request().Context(), slog.LevelError, "request", attrs...)
			} else {
				slog.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			}

			return nil
		},
	})
}
