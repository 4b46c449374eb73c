// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package encryption seals secrets at rest with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the required key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes hex-encoded")
	// ErrDecryption covers malformed input and failed authentication alike.
	ErrDecryption = errors.New("decryption failed")
)

// Service encrypts and decrypts strings. Output is
// base64(nonce || ciphertext || tag). Safe for concurrent use.
type Service struct {
	aead cipher.AEAD
}

// NewFromHex creates a Service from a 64-character hex key.
func NewFromHex(hexKey string) (*Service, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return New(key)
}

// New creates a Service from a raw 32-byte key.
func New(key []byte) (*Service, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (s *Service) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering yields ErrDecryption.
func (s *Service) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryption
	}

	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", ErrDecryption
	}

	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
