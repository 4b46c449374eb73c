// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package twofactor provides TOTP secrets, backup codes and the short-lived
// token that bridges the password step and the code step of a login.
package twofactor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	period     = 30
	secretSize = 20
	qrSize     = 200
)

// Secret is a freshly generated TOTP secret and its otpauth:// URI.
type Secret struct {
	Secret          string
	ProvisioningURI string
}

// Service generates and verifies TOTP codes for one issuer.
type Service struct {
	issuer string
	now    func() time.Time
}

// New creates a Service. An empty issuer defaults to "Live Sales".
func New(issuer string) *Service {
	if strings.TrimSpace(issuer) == "" {
		issuer = "Live Sales"
	}
	return &Service{issuer: issuer, now: time.Now}
}

// GenerateSecret creates a new secret labelled with account (usually the
// user's email).
func (s *Service) GenerateSecret(account string) (Secret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: account,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Secret{}, fmt.Errorf("generate totp secret: %w", err)
	}
	return Secret{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// VerifyCode checks code against secret, accepting one step of clock drift
// either way.
func (s *Service) VerifyCode(secret, code string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// QRCodeDataURL renders uri as a PNG QR code data URL.
func QRCodeDataURL(uri string) (string, error) {
	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	code, err = barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("scale qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
