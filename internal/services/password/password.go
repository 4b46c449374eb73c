// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package password hashes and verifies secrets with argon2id.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	saltLength = 16
	keyLength  = 32
	algorithm  = "argon2id"

	// Upper bounds for parameters read from stored digests.
	maxMemory      = 1024 * 1024 // KiB
	maxIterations  = 16
	maxParallelism = 16
	maxSaltLength  = 64
	maxKeyLength   = 64
)

var (
	ErrInvalidParams = errors.New("invalid argon2 parameters")
	errMalformed     = errors.New("malformed password digest")
)

// Params are the argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns production parameters (64 MiB, 3 passes, 2 lanes).
func DefaultParams() Params {
	return Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 2}
}

// Hasher produces and checks PHC-formatted argon2id digests. The number of
// concurrent derivations is bounded so login bursts cannot exhaust memory.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
	dummy  string
}

// NewHasher validates params and precomputes the digest used by DummyVerify.
func NewHasher(params Params) (*Hasher, error) {
	if params.Memory < 8*1024 || params.Iterations < 1 || params.Parallelism < 1 {
		return nil, ErrInvalidParams
	}
	if params.Memory > maxMemory || params.Iterations > maxIterations || params.Parallelism > maxParallelism {
		return nil, ErrInvalidParams
	}

	h := &Hasher{
		params: params,
		sem:    semaphore.NewWeighted(int64(max(runtime.GOMAXPROCS(0), 1))),
	}

	dummy, err := h.Hash(context.Background(), "dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy

	return h, nil
}

// Hash derives a new digest with a random salt.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key, err := h.derive(ctx, plaintext, salt, h.params, keyLength)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. Malformed digests and
// cancelled contexts never match.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) bool {
	d, err := parse(digest)
	if err != nil {
		return false
	}

	key, err := h.derive(ctx, plaintext, d.salt, d.params, uint32(len(d.key))) //nolint:gosec // bounded by parse
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, d.key) == 1
}

// DummyVerify spends the same time as a real verification. Use it when the
// account does not exist so response timing does not reveal that.
func (h *Hasher) DummyVerify(ctx context.Context, plaintext string) {
	_ = h.Verify(ctx, plaintext, h.dummy)
}

// NeedsRehash reports whether digest was produced with weaker parameters.
func (h *Hasher) NeedsRehash(digest string) bool {
	d, err := parse(digest)
	if err != nil {
		return true
	}
	return d.params.Memory < h.params.Memory ||
		d.params.Iterations < h.params.Iterations ||
		d.params.Parallelism < h.params.Parallelism
}

func (h *Hasher) derive(ctx context.Context, plaintext string, salt []byte, p Params, n uint32) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	return argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, n), nil
}

type digest struct {
	params Params
	salt   []byte
	key    []byte
}

// parse reads $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>.
func parse(s string) (*digest, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return nil, errMalformed
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, errMalformed
	}

	var d digest
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errMalformed
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, errMalformed
		}
		switch k {
		case "m":
			if n > maxMemory {
				return nil, errMalformed
			}
			d.params.Memory = uint32(n)
		case "t":
			if n > maxIterations {
				return nil, errMalformed
			}
			d.params.Iterations = uint32(n)
		case "p":
			if n > maxParallelism {
				return nil, errMalformed
			}
			d.params.Parallelism = uint8(n)
		default:
			return nil, errMalformed
		}
	}
	if d.params.Memory == 0 || d.params.Iterations == 0 || d.params.Parallelism == 0 {
		return nil, errMalformed
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < 8 || len(d.salt) > maxSaltLength {
		return nil, errMalformed
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) < 16 || len(d.key) > maxKeyLength {
		return nil, errMalformed
	}

	return &d, nil
}
