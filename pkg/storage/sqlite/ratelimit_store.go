// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/otpbridge/pkg/storage"
)

// RateLimitStore implements storage.RateLimitStore using SQLite.
type RateLimitStore struct {
	db *sql.DB
}

// NewRateLimitStore creates a new SQLite-backed RateLimitStore.
func NewRateLimitStore(db *DB) *RateLimitStore {
	return &RateLimitStore{db: db.DB()}
}

var _ storage.RateLimitStore = (*RateLimitStore)(nil)

// SumCounts returns the total count across in-window buckets for (key, action).
func (s *RateLimitStore) SumCounts(ctx context.Context, key, action string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0)
		FROM rate_limits
		WHERE key = ? AND action = ? AND window_start > ?`,
		key, action, since.Unix(),
	)

	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("summing rate-limit buckets: %w", err)
	}

	return total, nil
}

// OldestWindowStart returns the earliest in-window bucket start for (key, action).
func (s *RateLimitStore) OldestWindowStart(ctx context.Context, key, action string, since time.Time) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(window_start)
		FROM rate_limits
		WHERE key = ? AND action = ? AND window_start > ?`,
		key, action, since.Unix(),
	)

	var oldest sql.NullInt64
	if err := row.Scan(&oldest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("querying oldest bucket: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, storage.ErrNotFound
	}

	return time.Unix(oldest.Int64, 0), nil
}

// Increment adds one to the bucket for (key, action, windowStart), inserting
// it if absent. The upsert keeps concurrent increments for the same minute
// from clobbering each other.
func (s *RateLimitStore) Increment(ctx context.Context, key, action string, windowStart time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (key, action, count, window_start)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (key, action, window_start)
		DO UPDATE SET count = count + 1`,
		key, action, windowStart.Unix(),
	); err != nil {
		return fmt.Errorf("incrementing rate-limit bucket: %w", err)
	}

	return nil
}

// DeleteOlderThan removes buckets whose window start is before cutoff.
func (s *RateLimitStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE window_start < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old rate-limit buckets: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}

	return removed, nil
}
