// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ctxkeys defines typed context keys used across packages.
package ctxkeys

// ClientIP is the context key for the caller's IP address.
type ClientIP struct{}

// UserAgent is the context key for the caller's User-Agent header.
type UserAgent struct{}

// Claims is the context key for verified access token claims.
type Claims struct{}
