// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package twofactor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTempTokenTTL is how long a user has to enter the second factor.
const DefaultTempTokenTTL = 5 * time.Minute

// PendingSetupTTL is how long a started 2FA setup waits for verification.
const PendingSetupTTL = 10 * time.Minute

const janitorInterval = time.Minute

type tempEntry struct {
	value     string
	expiresAt time.Time
}

// TempTokenStore holds short-lived 2FA state: single-use login tokens mapped
// to user ids and pending setups keyed by user id. It uses Redis when
// available and falls back to process memory, which is not shared between
// instances.
type TempTokenStore struct {
	client *redis.Client
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]tempEntry

	done      chan struct{}
	closeOnce sync.Once
}

// NewTempTokenStore creates a store. client may be nil.
func NewTempTokenStore(client *redis.Client, ttl time.Duration) *TempTokenStore {
	if ttl <= 0 {
		ttl = DefaultTempTokenTTL
	}
	return &TempTokenStore{
		client:  client,
		ttl:     ttl,
		entries: make(map[string]tempEntry),
		done:    make(chan struct{}),
	}
}

func tempKey(token string) string {
	return "2fa:temp:" + token
}

func setupKey(userID int64) string {
	return "2fa:setup:" + strconv.FormatInt(userID, 10)
}

// Create issues a token for userID.
func (s *TempTokenStore) Create(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	s.set(ctx, "create", tempKey(token), strconv.FormatInt(userID, 10), s.ttl)
	return token, nil
}

// Consume returns the user id for token and invalidates it. Of several
// concurrent calls with the same token at most one succeeds.
func (s *TempTokenStore) Consume(ctx context.Context, token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	raw, ok := s.get(ctx, "consume", tempKey(token), true)
	if !ok {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

// SavePendingSetup stores payload as the pending setup of userID, replacing
// any earlier one.
func (s *TempTokenStore) SavePendingSetup(ctx context.Context, userID int64, payload string) {
	s.set(ctx, "save_setup", setupKey(userID), payload, PendingSetupTTL)
}

// PendingSetup returns the pending setup of userID without removing it.
func (s *TempTokenStore) PendingSetup(ctx context.Context, userID int64) (string, bool) {
	return s.get(ctx, "get_setup", setupKey(userID), false)
}

// ClearPendingSetup removes the pending setup of userID.
func (s *TempTokenStore) ClearPendingSetup(ctx context.Context, userID int64) {
	key := setupKey(userID)
	if s.client != nil {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			slog.Warn("temp_token_fallback", "op", "clear_setup", "error", err)
		}
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *TempTokenStore) set(ctx context.Context, op, key, value string, ttl time.Duration) {
	if s.client != nil {
		err := s.client.Set(ctx, key, value, ttl).Err()
		if err == nil {
			return
		}
		slog.Warn("temp_token_fallback", "op", op, "error", err)
	}

	s.mu.Lock()
	s.entries[key] = tempEntry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

func (s *TempTokenStore) get(ctx context.Context, op, key string, del bool) (string, bool) {
	if s.client != nil {
		var (
			raw string
			err error
		)
		if del {
			raw, err = s.client.GetDel(ctx, key).Result()
		} else {
			raw, err = s.client.Get(ctx, key).Result()
		}
		switch {
		case err == nil:
			return raw, true
		case !errors.Is(err, redis.Nil):
			slog.Warn("temp_token_fallback", "op", op, "error", err)
		}
	}

	// Values written while Redis was unavailable live in memory.
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", false
	}
	if del {
		delete(s.entries, key)
	}
	return entry.value, true
}

// Start runs the janitor that purges expired in-memory entries until ctx is
// done or Close is called.
func (s *TempTokenStore) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case now := <-ticker.C:
				s.purge(now)
			}
		}
	}()
}

// Close stops the janitor.
func (s *TempTokenStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *TempTokenStore) purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}
