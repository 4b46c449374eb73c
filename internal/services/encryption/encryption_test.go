// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package encryption_test

import (
	"encoding/base64"
	"testing"

	"codeberg.org/livesales/authcore/internal/services/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newService(t *testing.T) *encryption.Service {
	t.Helper()
	svc, err := encryption.NewFromHex(testKey)
	require.NoError(t, err)
	return svc
}

func TestNewFromHex_InvalidKey(t *testing.T) {
	for _, key := range []string{"", "not-hex", "0123456789abcdef"} {
		_, err := encryption.NewFromHex(key)
		assert.ErrorIs(t, err, encryption.ErrInvalidKey, key)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	svc := newService(t)

	for _, plaintext := range []string{"JBSWY3DPEHPK3PXP", "", "zażółć gęślą jaźń"} {
		blob, err := svc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		got, err := svc.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	svc := newService(t)

	a, err := svc.Encrypt("secret")
	require.NoError(t, err)
	b, err := svc.Encrypt("secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecrypt_BitFlipFails(t *testing.T) {
	svc := newService(t)
	blob, err := svc.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	for _, i := range []int{0, 12, len(raw) - 1} {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01

		_, err := svc.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		assert.ErrorIs(t, err, encryption.ErrDecryption, "flip at byte %d", i)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	svc := newService(t)

	for _, blob := range []string{"%%%", "", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := svc.Decrypt(blob)
		assert.ErrorIs(t, err, encryption.ErrDecryption)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	blob, err := newService(t).Encrypt("secret")
	require.NoError(t, err)

	other, err := encryption.NewFromHex("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, encryption.ErrDecryption)
}
