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

// AccountStore implements storage.AccountStore using SQLite.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates a new SQLite-backed AccountStore.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db.DB()}
}

var _ storage.AccountStore = (*AccountStore)(nil)

// Upsert stores the email to identifier mapping, overwriting any existing row
// for the email so that a retried provisioning call stays idempotent.
func (s *AccountStore) Upsert(ctx context.Context, account storage.Account) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, identifier, handle, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email)
		DO UPDATE SET identifier = excluded.identifier, handle = excluded.handle`,
		account.Email,
		account.Identifier,
		account.Handle,
		account.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}

	return nil
}

// GetByEmail returns the mapping for the email.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (storage.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, identifier, handle, created_at
		FROM accounts
		WHERE email = ?`,
		email,
	)

	var (
		account   storage.Account
		createdAt int64
	)
	err := row.Scan(&account.Email, &account.Identifier, &account.Handle, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Account{}, fmt.Errorf("querying account: %w", err)
	}

	account.CreatedAt = time.Unix(createdAt, 0)

	return account, nil
}
