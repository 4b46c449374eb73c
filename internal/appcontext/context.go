// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package appcontext provides the custom Echo context and request metadata
// carried through context.Context into services.
package appcontext

import (
	"context"

	"codeberg.org/livesales/authcore/internal/ctxkeys"
	"codeberg.org/livesales/authcore/internal/services/token"
	"github.com/labstack/echo/v4"
)

// Meta describes the client of a request for logs and audit rows.
type Meta struct {
	IP        string
	UserAgent string
}

// WithMeta stores request metadata in ctx.
func WithMeta(ctx context.Context, m Meta) context.Context {
	ctx = context.WithValue(ctx, ctxkeys.ClientIP{}, m.IP)
	return context.WithValue(ctx, ctxkeys.UserAgent{}, m.UserAgent)
}

// MetaFrom returns the request metadata stored in ctx, or zero values.
func MetaFrom(ctx context.Context) Meta {
	ip, _ := ctx.Value(ctxkeys.ClientIP{}).(string)
	ua, _ := ctx.Value(ctxkeys.UserAgent{}).(string)
	return Meta{IP: ip, UserAgent: ua}
}

// WithClaims stores verified access claims in ctx.
func WithClaims(ctx context.Context, claims *token.AccessClaims) context.Context {
	return context.WithValue(ctx, ctxkeys.Claims{}, claims)
}

// ClaimsFrom returns the access claims stored in ctx, or nil.
func ClaimsFrom(ctx context.Context) *token.AccessClaims {
	claims, _ := ctx.Value(ctxkeys.Claims{}).(*token.AccessClaims)
	return claims
}

// Context is a custom Echo context carrying the authenticated caller.
type Context struct {
	echo.Context
	Claims *token.AccessClaims // nil if not authenticated
}

// From returns c as a *Context, wrapping it if necessary.
func From(c echo.Context) *Context {
	if cc, ok := c.(*Context); ok {
		return cc
	}
	return &Context{Context: c, Claims: ClaimsFrom(c.Request().Context())}
}

// IsAuthenticated returns true if an access token was verified.
func (c *Context) IsAuthenticated() bool {
	return c.Claims != nil
}

// UserID returns the authenticated user id, or 0.
func (c *Context) UserID() int64 {
	if c.Claims == nil {
		return 0
	}
	return c.Claims.UserID
}

// SessionID returns the session id of the access token, or "".
func (c *Context) SessionID() string {
	if c.Claims == nil {
		return ""
	}
	return c.Claims.SessionID
}

// Middleware wraps every request in a Context and records client metadata
// in the request context.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx := WithMeta(r.Context(), Meta{IP: c.RealIP(), UserAgent: r.UserAgent()})
			c.SetRequest(r.WithContext(ctx))
			return next(&Context{Context: c})
		}
	}
}
