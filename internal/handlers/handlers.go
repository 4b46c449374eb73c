// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/livesales/authcore/internal/repository"
	"github.com/labstack/echo/v4"
)

// Handlers contains handlers that do not belong to a feature group.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health returns the health status. The database is pinged when available.
func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Timestamp: time.Now().UTC()}

	if h.repo != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.DB().PingContext(ctx); err != nil {
			resp.Status = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}

	return c.JSON(http.StatusOK, resp)
}
