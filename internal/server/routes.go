// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/csrf"
	"codeberg.org/livesales/authcore/internal/handlers"
	appmiddleware "codeberg.org/livesales/authcore/internal/middleware"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"codeberg.org/livesales/authcore/internal/services/session"
	"codeberg.org/livesales/authcore/internal/services/token"
	"github.com/labstack/echo/v4"
)

// routeDeps holds dependencies needed to set up routes.
type routeDeps struct {
	cfg       *config.Config
	repo      *repository.Repository
	svc       *auth.Service
	tokens    *token.Manager
	transport session.Transport
	csrfStore *csrf.SessionStore // nil unless session CSRF is enabled
}

func setupRoutes(e *echo.Echo, deps *routeDeps) {
	cfg := deps.cfg
	secure := cfg.SecureCookies()

	h := handlers.New(deps.repo)
	ah := handlers.NewAuth(deps.svc, deps.transport, cfg.Auth.AccessTokenTTL, secure)
	uh := handlers.NewUser(deps.svc)

	e.GET("/health", h.Health)

	// Refresh and logout carry an ambient cookie, so they need a
	// double-submit token in cookie mode.
	var cookieCSRF []echo.MiddlewareFunc
	if deps.transport.UsesCookie() {
		cookieCSRF = append(cookieCSRF, csrf.DoubleSubmit(secure))
	}

	authed := []echo.MiddlewareFunc{appmiddleware.RequireAuth(deps.tokens)}
	if deps.csrfStore != nil {
		authed = append(authed, csrf.SessionProtect(deps.csrfStore, sessionID))
	}

	g := e.Group(cfg.Auth.Path)
	if limiter := authRateLimiter(cfg); limiter != nil {
		g.Use(limiter)
	}

	g.POST("/register", ah.Register)
	g.POST("/login", ah.Login)
	g.POST("/2fa/verify-login", ah.VerifyTwoFactorLogin)
	g.POST("/refresh", ah.Refresh, cookieCSRF...)
	g.POST("/logout", ah.Logout, append([]echo.MiddlewareFunc{appmiddleware.OptionalAuth(deps.tokens)}, cookieCSRF...)...)
	g.GET("/csrf", ah.CSRFToken, csrf.DoubleSubmit(secure))

	g.GET("/me", ah.Me, authed...)
	g.POST("/change-password", ah.ChangePassword, authed...)
	g.POST("/2fa/enable", ah.EnableTwoFactor, authed...)
	g.POST("/2fa/verify-setup", ah.VerifyTwoFactorSetup, authed...)
	g.POST("/2fa/disable", ah.DisableTwoFactor, authed...)
	g.POST("/csrf/rotate", ah.RotateCSRF, authed...)

	u := e.Group("/api/user", authed...)
	u.GET("/baselinker-token", uh.GetBaselinkerToken)
	u.PUT("/baselinker-token", uh.SaveBaselinkerToken)
	u.POST("/baselinker-token", uh.SaveBaselinkerToken)
	u.DELETE("/baselinker-token", uh.DeleteBaselinkerToken)
}

func sessionID(c echo.Context) string {
	return appcontext.From(c).SessionID()
}
