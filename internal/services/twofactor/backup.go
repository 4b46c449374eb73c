// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package twofactor

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"codeberg.org/livesales/authcore/internal/services/password"
)

const (
	// BackupCodeLength is the length of each backup code (without dashes).
	BackupCodeLength = 8
	// BackupCodeCount is the number of codes issued per activation.
	BackupCodeCount = 8
)

// 32 symbols, no 0/O or 1/I, so every random byte maps without bias.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateBackupCodes returns the plaintext codes for display and their
// argon2id digests for storage.
func GenerateBackupCodes(ctx context.Context, hasher *password.Hasher) ([]string, []string, error) {
	plaintexts, err := NewBackupCodes()
	if err != nil {
		return nil, nil, err
	}
	hashes, err := HashBackupCodes(ctx, hasher, plaintexts)
	if err != nil {
		return nil, nil, err
	}
	return plaintexts, hashes, nil
}

// NewBackupCodes returns a fresh set of codes in display form.
func NewBackupCodes() ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := generateCode(BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes[i] = formatCode(code)
	}
	return codes, nil
}

// HashBackupCodes digests codes in normalized form, the form they are
// checked in at login.
func HashBackupCodes(ctx context.Context, hasher *password.Hasher, codes []string) ([]string, error) {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := hasher.Hash(ctx, NormalizeBackupCode(code))
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		hashes[i] = hash
	}
	return hashes, nil
}

// NormalizeBackupCode strips dashes and spaces and upper-cases the code.
func NormalizeBackupCode(code string) string {
	code = strings.NewReplacer("-", "", " ", "").Replace(code)
	return strings.ToUpper(code)
}

// LooksLikeBackupCode reports whether code has the shape of a backup code,
// so six-digit TOTP input can skip the hash scan.
func LooksLikeBackupCode(code string) bool {
	code = NormalizeBackupCode(code)
	if len(code) != BackupCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

func generateCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}

	return string(b), nil
}

// formatCode inserts a dash every four characters ("ABCD-EFGH").
func formatCode(code string) string {
	var parts []string
	for i := 0; i < len(code); i += 4 {
		end := min(i+4, len(code))
		parts = append(parts, code[i:end])
	}
	return strings.Join(parts, "-")
}
