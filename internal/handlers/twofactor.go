// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"net/http"

	"codeberg.org/livesales/authcore/internal/appcontext"
	"codeberg.org/livesales/authcore/internal/httpx"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"github.com/labstack/echo/v4"
)

// VerifyLoginRequest is the second step of a 2FA login.
type VerifyLoginRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

// VerifySetupRequest confirms a secret from BeginTwoFactorSetup.
type VerifySetupRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// DisableTwoFactorRequest needs both factors.
type DisableTwoFactorRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// TwoFactorLoginResponse is a SessionResponse completed by a second factor.
type TwoFactorLoginResponse struct {
	*SessionResponse
	UsedBackupCode       bool   `json:"usedBackupCode"`
	RemainingBackupCodes *int64 `json:"remainingBackupCodes,omitempty"`
}

// TwoFactorSetupResponse is returned by enable.
type TwoFactorSetupResponse struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

// BackupCodesResponse lists freshly issued backup codes.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

// VerifyTwoFactorLogin exchanges a temp token and a code for a session.
func (h *AuthHandlers) VerifyTwoFactorLogin(c echo.Context) error {
	var req VerifyLoginRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if req.TempToken == "" || req.Code == "" {
		return validationError(c)
	}

	result, err := h.svc.VerifyTwoFactorLogin(c.Request().Context(), req.TempToken, req.Code)
	if err != nil {
		return respondError(c, err)
	}

	sess, err := h.sessionResponse(c, result.Session)
	if err != nil {
		return respondError(c, err)
	}
	resp := TwoFactorLoginResponse{SessionResponse: sess, UsedBackupCode: result.UsedBackupCode}
	if result.UsedBackupCode {
		resp.RemainingBackupCodes = &result.RemainingBackupCodes
	}
	return c.JSON(http.StatusOK, resp)
}

// EnableTwoFactor starts 2FA setup.
func (h *AuthHandlers) EnableTwoFactor(c echo.Context) error {
	setup, err := h.svc.BeginTwoFactorSetup(c.Request().Context(), appcontext.From(c).UserID())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, TwoFactorSetupResponse{
		Secret:      setup.Secret,
		QRCode:      setup.QRCode,
		BackupCodes: setup.BackupCodes,
	})
}

// VerifyTwoFactorSetup activates 2FA.
func (h *AuthHandlers) VerifyTwoFactorSetup(c echo.Context) error {
	var req VerifySetupRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if req.Secret == "" || req.Code == "" {
		return validationError(c)
	}

	codes, err := h.svc.VerifyTwoFactorSetup(c.Request().Context(), appcontext.From(c).UserID(), req.Secret, req.Code)
	if errors.Is(err, auth.ErrInvalid2FACode) {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_2FA_CODE")
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// DisableTwoFactor turns 2FA off.
func (h *AuthHandlers) DisableTwoFactor(c echo.Context) error {
	var req DisableTwoFactorRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c)
	}
	if req.Password == "" || req.Code == "" {
		return validationError(c)
	}

	err := h.svc.DisableTwoFactor(c.Request().Context(), appcontext.From(c).UserID(), req.Password, req.Code)
	if errors.Is(err, auth.ErrInvalid2FACode) {
		return httpx.Error(c, http.StatusBadRequest, "INVALID_2FA_CODE")
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message(c, "2fa_disabled"))
}
