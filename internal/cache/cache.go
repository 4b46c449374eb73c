// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package cache opens the Redis connection shared by short-lived stores.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnreachable is returned by Open when the server does not answer a ping.
var ErrUnreachable = errors.New("redis unreachable")

// Open parses url, connects and pings. An empty url returns a nil client,
// which callers treat as "no redis available".
func Open(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil //nolint:nilnil // nil client is a valid "disabled" state
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrUnreachable, err)
	}

	return client, nil
}

// Close closes the client if there is one.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
