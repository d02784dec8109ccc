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

// OTPStore implements storage.OTPStore using SQLite.
type OTPStore struct {
	db *sql.DB
}

// NewOTPStore creates a new SQLite-backed OTPStore.
func NewOTPStore(db *DB) *OTPStore {
	return &OTPStore{db: db.DB()}
}

var _ storage.OTPStore = (*OTPStore)(nil)

// Insert stores a new token after invalidating every other unused token for
// the same email, keeping at most one active token per address.
func (s *OTPStore) Insert(ctx context.Context, token storage.OTPToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_tokens SET used = 1 WHERE email = ? AND used = 0`,
		token.Email,
	); err != nil {
		return fmt.Errorf("invalidating previous tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO otp_tokens (email, code_hash, attempts, max_attempts, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		token.Email,
		token.CodeHash,
		token.Attempts,
		token.MaxAttempts,
		token.ExpiresAt.Unix(),
		token.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// GetActive returns the most recent unused, unexpired token for the email.
func (s *OTPStore) GetActive(ctx context.Context, email string, now time.Time) (storage.OTPToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, code_hash, attempts, max_attempts, expires_at, used, created_at
		FROM otp_tokens
		WHERE email = ? AND used = 0 AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		email, now.Unix(),
	)

	var (
		token                storage.OTPToken
		expiresAt, createdAt int64
	)
	err := row.Scan(
		&token.ID,
		&token.Email,
		&token.CodeHash,
		&token.Attempts,
		&token.MaxAttempts,
		&expiresAt,
		&token.Used,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.OTPToken{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OTPToken{}, fmt.Errorf("querying active token: %w", err)
	}

	token.ExpiresAt = time.Unix(expiresAt, 0)
	token.CreatedAt = time.Unix(createdAt, 0)

	return token, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. A single UPDATE ... RETURNING statement keeps concurrent guesses for
// the same token from both observing the pre-increment count.
func (s *OTPStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE otp_tokens SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("incrementing attempts: %w", err)
	}

	return attempts, nil
}

// MarkUsed marks the token as consumed.
func (s *OTPStore) MarkUsed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE otp_tokens SET used = 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking token used: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// DeleteExpired removes tokens that are expired or used.
func (s *OTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM otp_tokens WHERE used = 1 OR expires_at <= ?`,
		now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}

	return removed, nil
}
