// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides domain-specific storage interfaces for the OTP bridge.
package storage

import (
	"context"
	"time"
)

// OTPToken is a stored one-time-password token for an email address.
type OTPToken struct {
	// ID is the row identifier.
	ID int64
	// Email is the address the code was issued for.
	Email string
	// CodeHash is the hex-encoded SHA-256 of the code. The raw code is never stored.
	CodeHash string
	// Attempts is the number of verification attempts consumed so far.
	Attempts int
	// MaxAttempts is the attempt cap after which the token is burned.
	MaxAttempts int
	// ExpiresAt is when the token stops being valid.
	ExpiresAt time.Time
	// Used marks a consumed or invalidated token.
	Used bool
	// CreatedAt is when the token was issued.
	CreatedAt time.Time
}

// RateBucket is a minute-granular counter for a (key, action) pair.
type RateBucket struct {
	Key         string
	Action      string
	Count       int
	WindowStart time.Time
}

// Account maps an email address to the host AS identity created for it.
type Account struct {
	Email      string
	Identifier string
	Handle     string
	CreatedAt  time.Time
}

// OTPStore defines the persistence interface for OTP tokens.
type OTPStore interface {
	// Insert stores a new token after marking every other unused token for
	// the same email as used, so at most one token is ever active per email.
	Insert(ctx context.Context, token OTPToken) error
	// GetActive returns the most recent unused, unexpired token for the email.
	// Returns ErrNotFound if no such token exists.
	GetActive(ctx context.Context, email string, now time.Time) (OTPToken, error)
	// IncrementAttempts atomically increments the attempt counter for the
	// token and returns the post-increment value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	// MarkUsed marks the token as consumed.
	MarkUsed(ctx context.Context, id int64) error
	// DeleteExpired removes tokens that are expired or used and returns the
	// number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RateLimitStore defines the persistence interface for rate-limit buckets.
type RateLimitStore interface {
	// SumCounts returns the total count across buckets for (key, action)
	// whose window start is strictly after since.
	SumCounts(ctx context.Context, key, action string, since time.Time) (int, error)
	// OldestWindowStart returns the earliest in-window bucket start for
	// (key, action). Returns ErrNotFound if no bucket is in the window.
	OldestWindowStart(ctx context.Context, key, action string, since time.Time) (time.Time, error)
	// Increment adds one to the bucket for (key, action, windowStart),
	// inserting the bucket if it does not exist.
	Increment(ctx context.Context, key, action string, windowStart time.Time) error
	// DeleteOlderThan removes buckets whose window start is before cutoff
	// and returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccountStore defines the persistence interface for the local email to
// identifier mapping.
type AccountStore interface {
	// Upsert stores the mapping, overwriting any existing row for the email.
	Upsert(ctx context.Context, account Account) error
	// GetByEmail returns the mapping for the email, or ErrNotFound.
	GetByEmail(ctx context.Context, email string) (Account, error)
}
