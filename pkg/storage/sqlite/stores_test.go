// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/otpbridge/pkg/storage"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func testToken(email string, now time.Time) storage.OTPToken {
	return storage.OTPToken{
		Email:       email,
		CodeHash:    "deadbeef",
		MaxAttempts: 5,
		ExpiresAt:   now.Add(15 * time.Minute),
		CreatedAt:   now,
	}
}

func TestOTPStore_InsertInvalidatesPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewOTPStore(openTestDB(t))
	now := time.Now()

	first := testToken("a@b.com", now)
	first.CodeHash = "first"
	require.NoError(t, store.Insert(ctx, first))

	second := testToken("a@b.com", now.Add(time.Second))
	second.CodeHash = "second"
	require.NoError(t, store.Insert(ctx, second))

	active, err := store.GetActive(ctx, "a@b.com", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "second", active.CodeHash)
	assert.False(t, active.Used)
}

func TestOTPStore_GetActiveSkipsExpiredAndUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewOTPStore(openTestDB(t))
	now := time.Now()

	expired := testToken("a@b.com", now.Add(-time.Hour))
	expired.ExpiresAt = now.Add(-45 * time.Minute)
	require.NoError(t, store.Insert(ctx, expired))

	_, err := store.GetActive(ctx, "a@b.com", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fresh := testToken("a@b.com", now)
	require.NoError(t, store.Insert(ctx, fresh))

	active, err := store.GetActive(ctx, "a@b.com", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkUsed(ctx, active.ID))

	_, err = store.GetActive(ctx, "a@b.com", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOTPStore_IncrementAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewOTPStore(openTestDB(t))
	now := time.Now()

	require.NoError(t, store.Insert(ctx, testToken("a@b.com", now)))
	active, err := store.GetActive(ctx, "a@b.com", now)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, incErr := store.IncrementAttempts(ctx, active.ID)
		require.NoError(t, incErr)
		assert.Equal(t, want, got)
	}

	_, err = store.IncrementAttempts(ctx, active.ID+1000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOTPStore_DeleteExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewOTPStore(openTestDB(t))
	now := time.Now()

	stale := testToken("old@b.com", now.Add(-time.Hour))
	stale.ExpiresAt = now.Add(-45 * time.Minute)
	require.NoError(t, store.Insert(ctx, stale))

	fresh := testToken("new@b.com", now)
	require.NoError(t, store.Insert(ctx, fresh))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetActive(ctx, "new@b.com", now)
	assert.NoError(t, err)
}

func TestRateLimitStore_SumAndIncrement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRateLimitStore(openTestDB(t))
	window := time.Now().Truncate(time.Minute)
	since := window.Add(-15 * time.Minute)

	total, err := store.SumCounts(ctx, "a@b.com", "send", since)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window))
	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window))
	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window.Add(-time.Minute)))

	// Different key and action must not bleed into the sum.
	require.NoError(t, store.Increment(ctx, "other@b.com", "send", window))
	require.NoError(t, store.Increment(ctx, "a@b.com", "verify", window))

	total, err = store.SumCounts(ctx, "a@b.com", "send", since)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestRateLimitStore_OldestWindowStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRateLimitStore(openTestDB(t))
	window := time.Now().Truncate(time.Minute)
	since := window.Add(-15 * time.Minute)

	_, err := store.OldestWindowStart(ctx, "a@b.com", "send", since)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window))
	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window.Add(-5*time.Minute)))

	oldest, err := store.OldestWindowStart(ctx, "a@b.com", "send", since)
	require.NoError(t, err)
	assert.Equal(t, window.Add(-5*time.Minute).Unix(), oldest.Unix())
}

func TestRateLimitStore_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRateLimitStore(openTestDB(t))
	window := time.Now().Truncate(time.Minute)

	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window))
	require.NoError(t, store.Increment(ctx, "a@b.com", "send", window.Add(-2*time.Hour)))

	removed, err := store.DeleteOlderThan(ctx, window.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestAccountStore_UpsertAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewAccountStore(openTestDB(t))
	now := time.Now()

	_, err := store.GetByEmail(ctx, "a@b.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, storage.Account{
		Email:      "a@b.com",
		Identifier: "id-1",
		Handle:     "user-abc",
		CreatedAt:  now,
	}))

	account, err := store.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", account.Identifier)
	assert.Equal(t, "user-abc", account.Handle)

	// A retried provisioning call overwrites rather than duplicates.
	require.NoError(t, store.Upsert(ctx, storage.Account{
		Email:      "a@b.com",
		Identifier: "id-2",
		Handle:     "user-def",
		CreatedAt:  now,
	}))

	account, err = store.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "id-2", account.Identifier)
	assert.Equal(t, "user-def", account.Handle)
}
